// Package mqtt connects the access core to an MQTT broker.
//
// The core publishes sync results, integrity reports and door access events
// so that home automation controllers and dashboards can follow the state of
// every Akuvox device without polling the REST API. It also listens on a
// single command topic that requests an immediate sync.
//
// # Topics
//
//	akuvox/system/status            retained online/offline (LWT)
//	akuvox/device/{id}/sync         retained last sync result per device
//	akuvox/device/{id}/integrity    last integrity report per device
//	akuvox/event/access             door log events as they are ingested
//	akuvox/command/sync             inbound {"device_id": ""} sync request
//
// The client reconnects automatically and restores its subscriptions after
// a reconnect. Handlers run on paho's goroutines and must not block.
package mqtt
