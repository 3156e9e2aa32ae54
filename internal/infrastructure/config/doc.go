// Package config handles loading and validating the access core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields and device entries
//   - Default value handling (sync cadence, timeouts, history limits)
//
// Security Considerations:
//   - Device and broker passwords should be set via the config file with
//     restricted permissions (0600) or via environment variables
//   - DeviceConfig.String redacts the device password
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Sync.DebounceDelay())
package config
