// Package device keeps the catalogue of managed Akuvox devices.
//
// Each device record holds how to reach the device (connection), how it
// takes part in sync (options: participation, sync groups, exit flag,
// relay roles, firmware extras) and what was last observed on it (health,
// local user snapshot).
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                       Device Registry                         │
//	│                                                               │
//	│  ┌──────────────────┐    ┌──────────────────┐                 │
//	│  │     Registry     │    │    Repository    │                 │
//	│  │   (registry.go)  │───▶│  (repository.go) │                 │
//	│  │                  │    │                  │                 │
//	│  │ • CRUD ops       │    │ • SQLite queries │                 │
//	│  │ • In-memory cache│    │ • JSON columns   │                 │
//	│  │ • Sync status    │    │                  │                 │
//	│  └──────────────────┘    └──────────────────┘                 │
//	│                                                               │
//	│  ┌──────────────────┐    ┌──────────────────┐                 │
//	│  │  Relay roles     │    │    Validation    │                 │
//	│  │   (relay.go)     │    │ (validation.go)  │                 │
//	│  └──────────────────┘    └──────────────────┘                 │
//	└──────────────────────────────────────────────────────────────┘
//
// # Relay Roles
//
// Relay A and B may each be wired to a door strike, an alarm panel, or a
// door that is also alarmed (door_alarm). RelaySuffix turns the roles and
// a user's key-holder flag into the relay digits pushed to the device.
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db)
//	registry := device.NewRegistry(repo)
//	registry.SetLogger(log)
//
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	// Configured devices are seeded on every start.
//	created, err := registry.SeedDevice(ctx, &device.Record{...})
//
//	// After a sync pass
//	registry.SetSyncResult(ctx, id, "2 added, 1 updated", err)
//
// # Thread Safety
//
// The Registry is safe for concurrent use. Reads go through a read-write
// mutex; writes to a single record are serialised so health updates from
// parallel sync passes never interleave.
package device
