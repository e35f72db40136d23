package models

import "time"

// TelemetryReading is the most recent data payload received from a device.
// The store keeps one reading per serial (last value wins).
type TelemetryReading struct {
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}
