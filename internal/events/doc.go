// Package events fans reconciliation and door-log activity out to the
// optional sinks: MQTT topics, InfluxDB points, WebSocket channels and the
// audit trail. It also accepts sync commands published on MQTT.
//
// Every sink is optional. A Fanout with no sinks still satisfies the engine
// and collector observer interfaces and does nothing.
package events
