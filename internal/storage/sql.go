package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"cloudloader/pkg/contracts/domain"
)

// SQLBackend is the durable backend on top of sqlite or postgres.
type SQLBackend struct {
	db     *sqlx.DB
	driver string

	mu       sync.Mutex
	migrated bool
}

// NewSQLiteBackend opens a sqlite database. An empty path opens an
// in-memory database, which is what tests use.
func NewSQLiteBackend(path string) (*SQLBackend, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps sqlite free of SQLITE_BUSY and pins :memory: to one connection.
	db.SetMaxOpenConns(1)

	b := &SQLBackend{db: db, driver: "sqlite"}
	if err := b.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// NewPostgresBackend prepares a postgres pool. The connection is lazy so a
// database that is down at start only routes traffic to the volatile backend.
func NewPostgresBackend(dsn string) (*SQLBackend, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &SQLBackend{db: db, driver: "postgres"}, nil
}

func (b *SQLBackend) Name() string { return KindDurable }
func (b *SQLBackend) Driver() string { return b.driver }
func (b *SQLBackend) Keys() KeyStore { return sqlKeys{b.db} }
func (b *SQLBackend) Devices() DeviceRegistry { return sqlDevices{b.db} }

// Ping checks the connection.
func (b *SQLBackend) Ping(ctx context.Context) error {
	if err := b.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Migrate applies the schema once per process.
func (b *SQLBackend) Migrate(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.migrated {
		return nil
	}
	for i, stmt := range migrations {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	b.migrated = true
	return nil
}

// Close closes the pool.
func (b *SQLBackend) Close() error {
	return b.db.Close()
}

// DB exposes the underlying handle.
func (b *SQLBackend) DB() *sqlx.DB {
	return b.db
}

type keyRow struct {
	Code          string       `db:"code"`
	Role          string       `db:"role"`
	UsesRemaining int64        `db:"uses_remaining"`
	Active        bool         `db:"active"`
	BoundDevice   string       `db:"bound_device"`
	BoundAt       sql.NullTime `db:"bound_at"`
	CreatedAt     time.Time    `db:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at"`
}

func keyToRow(k *domain.ActivationKey) keyRow {
	r := keyRow{
		Code:          k.Code,
		Role:          string(k.Role),
		UsesRemaining: k.UsesRemaining,
		Active:        k.Active,
		BoundDevice:   k.BoundDevice,
		CreatedAt:     k.CreatedAt.UTC(),
		UpdatedAt:     k.UpdatedAt.UTC(),
	}
	if k.BoundAt != nil {
		r.BoundAt = sql.NullTime{Time: k.BoundAt.UTC(), Valid: true}
	}
	return r
}

func (r keyRow) toDomain() *domain.ActivationKey {
	k := &domain.ActivationKey{
		Code:          r.Code,
		Role:          domain.Role(r.Role),
		UsesRemaining: r.UsesRemaining,
		Active:        r.Active,
		BoundDevice:   r.BoundDevice,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.BoundAt.Valid {
		t := r.BoundAt.Time
		k.BoundAt = &t
	}
	return k
}

const keyColumns = `code, role, uses_remaining, active, bound_device, bound_at, created_at, updated_at`

type sqlKeys struct{ db *sqlx.DB }

func (s sqlKeys) GetKey(ctx context.Context, code string) (*domain.ActivationKey, error) {
	var row keyRow
	q := s.db.Rebind(`SELECT ` + keyColumns + ` FROM activation_keys WHERE code = ?`)
	if err := s.db.GetContext(ctx, &row, q, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get key: %w", err)
	}
	return row.toDomain(), nil
}

func (s sqlKeys) PutKey(ctx context.Context, key *domain.ActivationKey) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO activation_keys (`+keyColumns+`)
		VALUES (:code, :role, :uses_remaining, :active, :bound_device, :bound_at, :created_at, :updated_at)
		ON CONFLICT (code) DO UPDATE SET
			role = excluded.role,
			uses_remaining = excluded.uses_remaining,
			active = excluded.active,
			bound_device = excluded.bound_device,
			bound_at = excluded.bound_at,
			updated_at = excluded.updated_at`, keyToRow(key))
	if err != nil {
		return fmt.Errorf("put key: %w", err)
	}
	return nil
}

func (s sqlKeys) KeyExists(ctx context.Context, code string) (bool, error) {
	var n int
	q := s.db.Rebind(`SELECT COUNT(*) FROM activation_keys WHERE code = ?`)
	if err := s.db.GetContext(ctx, &n, q, code); err != nil {
		return false, fmt.Errorf("key exists: %w", err)
	}
	return n > 0, nil
}

func (s sqlKeys) ListKeys(ctx context.Context) ([]*domain.ActivationKey, error) {
	var rows []keyRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+keyColumns+` FROM activation_keys ORDER BY code`); err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	out := make([]*domain.ActivationKey, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s sqlKeys) InsertKey(ctx context.Context, key *domain.ActivationKey) error {
	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO activation_keys (`+keyColumns+`)
		VALUES (:code, :role, :uses_remaining, :active, :bound_device, :bound_at, :created_at, :updated_at)
		ON CONFLICT (code) DO NOTHING`, keyToRow(key))
	if err != nil {
		return fmt.Errorf("insert key: %w", err)
	}
	return requireRow(res, ErrConflict)
}

func (s sqlKeys) SwapKey(ctx context.Context, next *domain.ActivationKey, prevUses int64) error {
	row := keyToRow(next)
	q := s.db.Rebind(`
		UPDATE activation_keys SET
			uses_remaining = ?, active = ?, bound_device = ?, bound_at = ?, updated_at = ?
		WHERE code = ? AND uses_remaining = ?`)
	res, err := s.db.ExecContext(ctx, q,
		row.UsesRemaining, row.Active, row.BoundDevice, row.BoundAt, row.UpdatedAt,
		row.Code, prevUses)
	if err != nil {
		return fmt.Errorf("swap key: %w", err)
	}
	return requireRow(res, ErrConflict)
}

type grantRow struct {
	Fingerprint string    `db:"fingerprint"`
	Nickname    string    `db:"nickname"`
	Role        string    `db:"role"`
	KeyCode     string    `db:"key_code"`
	Active      bool      `db:"active"`
	ActivatedAt time.Time `db:"activated_at"`
	LastSeenAt  time.Time `db:"last_seen_at"`
	UsageCount  int64     `db:"usage_count"`
}

func grantToRow(g *domain.DeviceGrant) grantRow {
	return grantRow{
		Fingerprint: g.Fingerprint,
		Nickname:    g.Nickname,
		Role:        string(g.Role),
		KeyCode:     g.KeyCode,
		Active:      g.Active,
		ActivatedAt: g.ActivatedAt.UTC(),
		LastSeenAt:  g.LastSeenAt.UTC(),
		UsageCount:  g.UsageCount,
	}
}

func (r grantRow) toDomain() *domain.DeviceGrant {
	return &domain.DeviceGrant{
		Fingerprint: r.Fingerprint,
		Nickname:    r.Nickname,
		Role:        domain.Role(r.Role),
		KeyCode:     r.KeyCode,
		Active:      r.Active,
		ActivatedAt: r.ActivatedAt,
		LastSeenAt:  r.LastSeenAt,
		UsageCount:  r.UsageCount,
	}
}

const grantColumns = `fingerprint, nickname, role, key_code, active, activated_at, last_seen_at, usage_count`

const grantValues = `(:fingerprint, :nickname, :role, :key_code, :active, :activated_at, :last_seen_at, :usage_count)`

const grantUpdate = `
	nickname = excluded.nickname,
	role = excluded.role,
	key_code = excluded.key_code,
	active = excluded.active,
	activated_at = excluded.activated_at,
	last_seen_at = excluded.last_seen_at,
	usage_count = excluded.usage_count`

type sqlDevices struct{ db *sqlx.DB }

func (s sqlDevices) GetGrant(ctx context.Context, fingerprint string) (*domain.DeviceGrant, error) {
	var row grantRow
	q := s.db.Rebind(`SELECT ` + grantColumns + ` FROM device_grants WHERE fingerprint = ?`)
	if err := s.db.GetContext(ctx, &row, q, fingerprint); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get grant: %w", err)
	}
	return row.toDomain(), nil
}

func (s sqlDevices) PutGrant(ctx context.Context, grant *domain.DeviceGrant) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO device_grants (`+grantColumns+`) VALUES `+grantValues+`
		ON CONFLICT (fingerprint) DO UPDATE SET`+grantUpdate, grantToRow(grant))
	if err != nil {
		return fmt.Errorf("put grant: %w", err)
	}
	return nil
}

func (s sqlDevices) GrantExists(ctx context.Context, fingerprint string) (bool, error) {
	var n int
	q := s.db.Rebind(`SELECT COUNT(*) FROM device_grants WHERE fingerprint = ?`)
	if err := s.db.GetContext(ctx, &n, q, fingerprint); err != nil {
		return false, fmt.Errorf("grant exists: %w", err)
	}
	return n > 0, nil
}

func (s sqlDevices) ListGrants(ctx context.Context) ([]*domain.DeviceGrant, error) {
	var rows []grantRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+grantColumns+` FROM device_grants ORDER BY activated_at`); err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	out := make([]*domain.DeviceGrant, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s sqlDevices) CreateGrant(ctx context.Context, grant *domain.DeviceGrant) error {
	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO device_grants (`+grantColumns+`) VALUES `+grantValues+`
		ON CONFLICT (fingerprint) DO UPDATE SET`+grantUpdate+`
		WHERE device_grants.active = FALSE`, grantToRow(grant))
	if err != nil {
		return fmt.Errorf("create grant: %w", err)
	}
	return requireRow(res, ErrConflict)
}

func requireRow(res sql.Result, miss error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return miss
	}
	return nil
}
