// Package config loads the retail auth service configuration.
//
// Values are resolved in three layers: built-in defaults, the YAML file,
// then RETAILAUTH_* environment variables. Secrets such as the JWT signing
// key and broker credentials are expected to arrive through the
// environment rather than the file.
//
// Usage:
//
//	cfg, err := config.Load(ctx, "configs/config.yaml")
//	if err != nil {
//	    return err
//	}
package config
