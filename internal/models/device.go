package models

import "time"

// DeviceRecord is the last-known metadata for one registered device.
type DeviceRecord struct {
	Serial     string    `json:"serial"`
	IP         string    `json:"ip"`
	DeviceType string    `json:"device_type"`
	LastSeen   time.Time `json:"last_seen"`
}
