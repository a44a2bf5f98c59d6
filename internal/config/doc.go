// Package config loads, validates, and normalizes podforge configuration
// from a sectioned TOML file. Defaults live in defaults.go; path fields
// are expanded and made absolute during Load.
package config
