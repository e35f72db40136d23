package models

import "time"

// Event types emitted on the device event bus.
const (
	EventDeviceConnected  = "device_connected"
	EventDataReceived     = "data_received"
	EventTransferProgress = "transfer_progress"
	EventFileReceived     = "file_received"
	EventDeviceTimeout    = "device_timeout"
	EventDeviceEvicted    = "device_evicted"
)

// DeviceEvent is an immutable fact about a device, published to the event
// bus by any component and fanned out to subscribers. Data is an opaque
// payload that must not be mutated after emission.
type DeviceEvent struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	DeviceID  string         `json:"device_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewDeviceEvent stamps an event with the current time.
func NewDeviceEvent(eventType, deviceID string, data map[string]any) DeviceEvent {
	return DeviceEvent{
		Type:      eventType,
		Timestamp: time.Now(),
		DeviceID:  deviceID,
		Data:      data,
	}
}
