// Package akuvox talks to Akuvox intercoms and keypads over their local
// HTTP API.
//
// Devices in the field run with a mix of schemes, ports, certificate setups
// and firmware-specific endpoint paths, so the client never assumes a single
// base URL. The first successful combination is pinned per client:
//
//   - Detect probes the configured combination, then https:443 without and
//     with certificate verification, then http:80, against a short list of
//     status paths. Any HTTP status below 500 counts as reachable.
//   - Every data request walks the pinned base, the configured base and the
//     same fallback ladder, trying each candidate path in turn. The first
//     2xx response wins and re-pins the base.
//
// Requests use the device's action envelope:
//
//	{"target": "user", "action": "add", "data": {"item": [ ... ]}}
//
// Records returned by the device are decoded into Record, a flat string map
// whose booleans read "1"/"0". Outgoing users are typed UserItem values. A
// user's schedule is a ScheduleRef that names either a device schedule ID or
// a schedule name, never both.
//
// PrivatePIN and password fields are redacted from every logged payload.
package akuvox
