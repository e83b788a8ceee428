// Package config loads and validates collector configuration from YAML
// files, with ${VAR} environment expansion and defaults for every
// optional field.
package config
