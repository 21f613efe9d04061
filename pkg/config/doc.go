// Package config loads application configuration from an optional YAML
// file overlaid with CARDVAULT_* environment variables. Signing secrets
// are only ever read from the environment; when absent they are
// generated at startup.
package config
