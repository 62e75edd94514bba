// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// Optional sinks (database, redis, kafka) are disabled when their address is empty.
package config
