// Package logging is the structured logger shared by every component.
//
// It is a thin layer over log/slog. Each entry carries service and version
// attributes, components add their own with Component, and per-device code
// adds device_id with Device:
//
//	log := logging.New(cfg.Logging, version)
//	syncLog := log.Component("reconcile").Device("front-door")
//	syncLog.Info("sync complete", "added", 2)
//
// Attributes named like credentials (password, pin, private_pin, token,
// secret) are replaced with [REDACTED] by the handler, so a device payload
// logged by mistake does not leak door PINs.
//
// Configuration:
//
//	logging:
//	  level: info     # debug, info, warn, error
//	  format: json    # json, text
//	  output: stdout  # stdout, stderr
package logging
