package storage

import (
	"fmt"
	"path/filepath"
	"strings"

	"cloudloader/internal/config"
)

// OpenDurable builds the durable backend named by cfg.Driver. The memory
// driver has no durable backend and returns nil.
func OpenDurable(cfg config.StorageConfig) (Durable, error) {
	switch strings.ToLower(cfg.Driver) {
	case config.DriverMemory:
		return nil, nil
	case config.DriverSQLite:
		path := cfg.DSN
		if path == "" {
			path = filepath.Join(cfg.DataDir, config.DefaultSQLiteFile)
		}
		return NewSQLiteBackend(path)
	case config.DriverPostgres:
		return NewPostgresBackend(cfg.DSN)
	case config.DriverRedis:
		return NewRedisBackend(cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
