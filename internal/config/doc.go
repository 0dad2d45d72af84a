// Package config loads, parses, and validates service configuration from a
// YAML file and VECTORIZE_-prefixed environment variables. It gives the rest
// of the application type-safe access to server, admission, cache, pool,
// monitor, storage, and converter settings without leaking the loading
// mechanics into business logic.
package config
