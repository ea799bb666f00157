// Package config provides centralized configuration management for Cloud Loader.
// It loads configuration from multiple sources, validates it, and exposes a
// type-safe struct to the rest of the application.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//	1. Environment variables (highest priority)
//	2. YAML configuration file
//	3. Default values (lowest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern LOADER_<SECTION>_<FIELD>:
//
//	LOADER_SERVER_PORT=8080
//	LOADER_STORAGE_DRIVER=postgres
//	LOADER_STORAGE_DSN=postgres://loader@localhost/loader
//	LOADER_SECURITY_ADMIN_API_TOKEN=...
//	LOADER_LOGGING_LEVEL=debug
//
// # Seed Keys
//
// Keys provisioned at start come from seed.keys in the config file and from
// the YAML file named by seed.file. Both backends receive the same set.
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
