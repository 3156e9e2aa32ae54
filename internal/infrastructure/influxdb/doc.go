// Package influxdb records sync passes and door access events in InfluxDB.
//
// Two measurements are written:
//
//	sync_result   tags device_id, result, kind; fields per-operation counts
//	              and duration_ms
//	access_event  tags device_id, result, method; fields user_id, name, door
//
// Writes go through the non-blocking batched write API, so callers never
// wait on the network. Batch failures are reported through SetOnError.
package influxdb
