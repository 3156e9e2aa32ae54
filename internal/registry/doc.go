// Package registry holds the desired access-control state: user profiles,
// groups, schedules and registry-wide settings.
//
// The registry is the single source of truth. Devices are converged toward
// it by the reconcile package; every edit that devices must see ends by
// telling the ChangeNotifier (the sync scheduler) about it.
//
// Each section is persisted as one JSON blob through a Store. SQLiteStore
// keeps them in the kv_store table; MemoryStore serves tests.
//
// # User identifiers
//
// Users are keyed by "HA" followed by decimal digits. New IDs are the lowest
// free number, three digits wide (HA001). ReserveUser allocates and stores
// an empty pending profile in one step so concurrent callers never share an
// ID. Reservations left empty longer than the TTL are removed by the janitor.
package registry
