// Package config loads the bridge configuration from YAML.
//
// ${VAR} references are expanded from the environment before parsing, so
// secrets such as the journal database password can come from a .env file or
// the process environment.
package config
