// Package api serves the REST and WebSocket interface of the access core.
//
// REST routes live under /api/v1 and cover the user registry, groups,
// schedules, settings, devices, sync control, access history and the audit
// trail. Registry mutations schedule a debounced sync through the registry's
// change notifier; device actions (sync now, reboot, diagnostics) run
// immediately and report failures to the caller.
//
// The WebSocket hub at /api/v1/ws pushes events on four channels:
//
//	sync.completed     one reconciliation pass finished
//	integrity.checked  one integrity check finished
//	access.event       new door log entries
//	device.health      a device's health record changed
//
// A client subscribing to sync.completed or integrity.checked first receives
// the most recent event on that channel.
//
// Prometheus metrics are served at /metrics.
package api
