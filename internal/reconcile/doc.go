// Package reconcile converges Akuvox devices toward the access registry.
//
// The registry is the source of truth. For each participating device the
// Engine reads the device's user list, builds a Plan with BuildPlan and
// applies it: rogue records are purged, missing users added, stale users
// replaced (delete then add) and users who lost access deleted. Full passes
// also push custom schedules, and intercoms receive the phonebook.
//
// The Scheduler is a single goroutine that owns every trigger: debounced
// registry edits, explicit sync requests, the periodic full sweep, the
// read-only integrity check and the daily auto-sync and auto-reboot times.
// Because it runs passes one at a time, two passes never interleave
// conflicting deletes and adds on the same device.
package reconcile
