// Package config loads, normalizes, and validates storyloom configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// STORYLOOM_API_TOKEN, REDIS_ADDR, and the MINIO_* credentials. The Config
// type centralizes every knob the daemon, workers, and CLI need so the queue
// database, worker concurrency, content engine cadence, and handler commands
// are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
