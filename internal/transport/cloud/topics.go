package cloud

import "fmt"

// TopicPrefixDevice is the base for all per-device relay topics.
// Scheme: brewos/dev/{device_id}/{channel}
const TopicPrefixDevice = "brewos/dev"

// Topics provides builders for BrewOS relay topics. Using these helpers
// keeps topic naming consistent with the firmware's relay uplink.
type Topics struct{}

// DeviceState returns the topic the appliance publishes state snapshots on.
//
// Example: brewos/dev/BRW-7F3A21/state
func (Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/%s/state", TopicPrefixDevice, deviceID)
}

// DeviceCommand returns the topic the appliance listens for commands on.
//
// Example: brewos/dev/BRW-7F3A21/command
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/%s/command", TopicPrefixDevice, deviceID)
}

// DevicePresence returns the retained presence topic for a device.
// The relay sets this from the appliance's broker session (LWT on the
// firmware side), so subscribers learn online/offline without polling.
//
// Example: brewos/dev/BRW-7F3A21/presence
func (Topics) DevicePresence(deviceID string) string {
	return fmt.Sprintf("%s/%s/presence", TopicPrefixDevice, deviceID)
}
