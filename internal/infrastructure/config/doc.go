// Package config handles loading and validating meterhub configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Durations are written as Go duration strings ("200ms", "3s"). API and
// WebSocket timeouts are plain seconds.
//
// Security Considerations:
//   - Broker passwords and the pull bearer token should be set via
//     METERHUB_MQTT_PASSWORD and METERHUB_PULL_TOKEN
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Pull.URL)
package config
