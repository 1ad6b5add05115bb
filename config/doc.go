// Package config loads marketplace configuration from YAML files with
// environment-variable overrides. Precedence: defaults, then the YAML
// file, then environment variables.
package config
