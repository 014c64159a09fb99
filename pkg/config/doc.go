// Package config resolves the SDK client configuration. Values are layered
// from documented defaults, an optional YAML file, BREACT_* environment
// variables and finally explicit values supplied by the application, which
// always win. The result is validated once and never mutated afterwards.
package config
