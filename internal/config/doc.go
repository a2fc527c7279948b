// Package config loads, normalizes, and validates celigo configuration.
//
// Configuration lives in TOML (default ~/.config/celigo/config.toml, then
// ./celigo.toml). Credentials may be supplied through the environment or a
// .env file. Load returns a fully expanded Config that every component
// receives at construction time.
package config
