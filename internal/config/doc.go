// ABOUTME: Package config loads and validates the incident-gateway YAML
// ABOUTME: configuration.

// Package config holds the service configuration.
//
// Configuration is a YAML file with ${ENV_VAR} expansion applied to the raw
// content before parsing, so secrets like API keys stay out of the file.
// Duration fields are written as Go duration strings ("30s", "2m") and parsed
// at load time. Load fails fast on the first validation error.
package config
