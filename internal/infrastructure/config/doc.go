// Package config handles loading and validating embedded-vault configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with EMBEDDED_VAULT_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - A fixed root_token_id in a shared config file is visible to anyone who
//     can read it; leave it empty to get a random token per run
//   - MQTT and InfluxDB credentials should be set via environment variables
//
// Usage:
//
//	cfg, err := config.Load("embedded-vault.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Vault.Version)
package config
