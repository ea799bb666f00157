package config

import "time"

// Application constants
const (
	AppName = "Cloud Loader"

	// EnvPrefix namespaces every environment variable, e.g. LOADER_SERVER_PORT
	EnvPrefix = "LOADER"

	DefaultPort           = 8080
	DefaultRequestTimeout = 10 * time.Second
	DefaultPingTimeout    = 500 * time.Millisecond
	DefaultPrepareTimeout = 30 * time.Second
	DefaultNicknameMax    = 8
	DefaultLogFile        = "logs/app.log"
	DefaultSQLiteFile     = "cloudloader.db"
)

// Storage drivers
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)
