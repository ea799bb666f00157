package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	"cloudloader/internal/config"
	"cloudloader/pkg/contracts/domain"
)

var (
	inMemoryRedisMu     sync.Mutex
	inMemoryRedisServer *miniredis.Miniredis
)

// RedisBackend stores keys and grants as JSON documents.
//
//	<prefix>key:<code>      activation key
//	<prefix>device:<fp>     device grant
//	<prefix>keys            set of codes
//	<prefix>devices         set of fingerprints
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend connects lazily to the configured server. With InMemory
// set a process-local miniredis is started instead.
func NewRedisBackend(cfg config.RedisConfig) (*RedisBackend, error) {
	opts := &redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	}
	if cfg.InMemory {
		addr, err := ensureInMemoryRedisAddr()
		if err != nil {
			return nil, fmt.Errorf("start in-memory redis: %w", err)
		}
		opts.Addr = addr
	}
	return NewRedisBackendWithClient(redis.NewClient(opts), cfg.Prefix), nil
}

// NewRedisBackendWithClient wraps an existing client.
func NewRedisBackendWithClient(client *redis.Client, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix}
}

func ensureInMemoryRedisAddr() (string, error) {
	inMemoryRedisMu.Lock()
	defer inMemoryRedisMu.Unlock()

	if inMemoryRedisServer != nil {
		return inMemoryRedisServer.Addr(), nil
	}
	server, err := miniredis.Run()
	if err != nil {
		return "", err
	}
	inMemoryRedisServer = server
	return server.Addr(), nil
}

func (b *RedisBackend) Name() string { return KindDurable }
func (b *RedisBackend) Driver() string { return config.DriverRedis }
func (b *RedisBackend) Keys() KeyStore { return redisKeys{b} }
func (b *RedisBackend) Devices() DeviceRegistry { return redisDevices{b} }

func (b *RedisBackend) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Migrate is a no-op; redis has no schema.
func (b *RedisBackend) Migrate(context.Context) error { return nil }

func (b *RedisBackend) Close() error { return b.client.Close() }

func (b *RedisBackend) keyName(code string) string { return b.prefix + "key:" + code }
func (b *RedisBackend) deviceName(fp string) string { return b.prefix + "device:" + fp }
func (b *RedisBackend) keyIndex() string { return b.prefix + "keys" }
func (b *RedisBackend) deviceIndex() string { return b.prefix + "devices" }

// stringGetter is satisfied by both *redis.Client and *redis.Tx.
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getJSON[T any](ctx context.Context, c stringGetter, name string) (*T, error) {
	raw, err := c.Get(ctx, name).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return &v, nil
}

// casJSON runs fn against the current value of name inside WATCH. fn
// returns ErrConflict to abort; a concurrent write also yields ErrConflict.
func casJSON[T any](ctx context.Context, client *redis.Client, name, index, member string, fn func(cur *T) error, next any) error {
	payload, err := json.Marshal(next)
	if err != nil {
		return err
	}
	err = client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := getJSON[T](ctx, tx, name)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := fn(cur); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, name, payload, 0)
			p.SAdd(ctx, index, member)
			return nil
		})
		return err
	}, name)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	return err
}

func putJSON(ctx context.Context, client *redis.Client, name, index, member string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, name, payload, 0)
		p.SAdd(ctx, index, member)
		return nil
	})
	return err
}

func listJSON[T any](ctx context.Context, client *redis.Client, index string, name func(string) string) ([]*T, error) {
	members, err := client.SMembers(ctx, index).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(members)
	out := make([]*T, 0, len(members))
	for _, m := range members {
		v, err := getJSON[T](ctx, client, name(m))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

type redisKeys struct{ b *RedisBackend }

func (s redisKeys) GetKey(ctx context.Context, code string) (*domain.ActivationKey, error) {
	k, err := getJSON[domain.ActivationKey](ctx, s.b.client, s.b.keyName(code))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get key: %w", err)
	}
	return k, err
}

func (s redisKeys) PutKey(ctx context.Context, key *domain.ActivationKey) error {
	if err := putJSON(ctx, s.b.client, s.b.keyName(key.Code), s.b.keyIndex(), key.Code, key); err != nil {
		return fmt.Errorf("put key: %w", err)
	}
	return nil
}

func (s redisKeys) KeyExists(ctx context.Context, code string) (bool, error) {
	n, err := s.b.client.Exists(ctx, s.b.keyName(code)).Result()
	if err != nil {
		return false, fmt.Errorf("key exists: %w", err)
	}
	return n > 0, nil
}

func (s redisKeys) ListKeys(ctx context.Context) ([]*domain.ActivationKey, error) {
	keys, err := listJSON[domain.ActivationKey](ctx, s.b.client, s.b.keyIndex(), s.b.keyName)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}

func (s redisKeys) InsertKey(ctx context.Context, key *domain.ActivationKey) error {
	return casJSON(ctx, s.b.client, s.b.keyName(key.Code), s.b.keyIndex(), key.Code,
		func(cur *domain.ActivationKey) error {
			if cur != nil {
				return ErrConflict
			}
			return nil
		}, key)
}

func (s redisKeys) SwapKey(ctx context.Context, next *domain.ActivationKey, prevUses int64) error {
	return casJSON(ctx, s.b.client, s.b.keyName(next.Code), s.b.keyIndex(), next.Code,
		func(cur *domain.ActivationKey) error {
			if cur == nil {
				return ErrNotFound
			}
			if cur.UsesRemaining != prevUses {
				return ErrConflict
			}
			return nil
		}, next)
}

type redisDevices struct{ b *RedisBackend }

func (s redisDevices) GetGrant(ctx context.Context, fingerprint string) (*domain.DeviceGrant, error) {
	g, err := getJSON[domain.DeviceGrant](ctx, s.b.client, s.b.deviceName(fingerprint))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get grant: %w", err)
	}
	return g, err
}

func (s redisDevices) PutGrant(ctx context.Context, grant *domain.DeviceGrant) error {
	if err := putJSON(ctx, s.b.client, s.b.deviceName(grant.Fingerprint), s.b.deviceIndex(), grant.Fingerprint, grant); err != nil {
		return fmt.Errorf("put grant: %w", err)
	}
	return nil
}

func (s redisDevices) GrantExists(ctx context.Context, fingerprint string) (bool, error) {
	n, err := s.b.client.Exists(ctx, s.b.deviceName(fingerprint)).Result()
	if err != nil {
		return false, fmt.Errorf("grant exists: %w", err)
	}
	return n > 0, nil
}

func (s redisDevices) ListGrants(ctx context.Context) ([]*domain.DeviceGrant, error) {
	grants, err := listJSON[domain.DeviceGrant](ctx, s.b.client, s.b.deviceIndex(), s.b.deviceName)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	sort.SliceStable(grants, func(i, j int) bool { return grants[i].ActivatedAt.Before(grants[j].ActivatedAt) })
	return grants, nil
}

func (s redisDevices) CreateGrant(ctx context.Context, grant *domain.DeviceGrant) error {
	return casJSON(ctx, s.b.client, s.b.deviceName(grant.Fingerprint), s.b.deviceIndex(), grant.Fingerprint,
		func(cur *domain.DeviceGrant) error {
			if cur != nil && cur.Active {
				return ErrConflict
			}
			return nil
		}, grant)
}
