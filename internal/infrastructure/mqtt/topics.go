package mqtt

// TopicPrefix is the root of every topic the access core uses.
const TopicPrefix = "akuvox"

// Topics builds the access core's topic names.
type Topics struct{}

// SystemStatus is the retained online/offline topic, also used as the LWT.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// DeviceSync carries the last sync result of one device.
//
// Example: akuvox/device/front-gate/sync
func (Topics) DeviceSync(deviceID string) string {
	return TopicPrefix + "/device/" + deviceID + "/sync"
}

// DeviceIntegrity carries the last integrity report of one device.
func (Topics) DeviceIntegrity(deviceID string) string {
	return TopicPrefix + "/device/" + deviceID + "/integrity"
}

// AccessEvent carries door log events.
func (Topics) AccessEvent() string {
	return TopicPrefix + "/event/access"
}

// SyncCommand is the inbound sync request topic.
func (Topics) SyncCommand() string {
	return TopicPrefix + "/command/sync"
}

// AllDeviceSyncs matches every device's sync topic.
func (Topics) AllDeviceSyncs() string {
	return TopicPrefix + "/device/+/sync"
}
