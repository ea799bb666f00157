package storage

// migrations are applied in order on every start. Each statement is
// idempotent and valid for both sqlite and postgres.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS activation_keys (
		code           TEXT PRIMARY KEY,
		role           TEXT NOT NULL,
		uses_remaining BIGINT NOT NULL,
		active         BOOLEAN NOT NULL DEFAULT TRUE,
		bound_device   TEXT NOT NULL DEFAULT '',
		bound_at       TIMESTAMP NULL,
		created_at     TIMESTAMP NOT NULL,
		updated_at     TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_activation_keys_role ON activation_keys(role)`,
	`CREATE TABLE IF NOT EXISTS device_grants (
		fingerprint  TEXT PRIMARY KEY,
		nickname     TEXT NOT NULL DEFAULT '',
		role         TEXT NOT NULL,
		key_code     TEXT NOT NULL,
		active       BOOLEAN NOT NULL DEFAULT TRUE,
		activated_at TIMESTAMP NOT NULL,
		last_seen_at TIMESTAMP NOT NULL,
		usage_count  BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_device_grants_key ON device_grants(key_code)`,
}
