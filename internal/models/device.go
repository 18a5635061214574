package models

import "time"

// Device represents a heart-rate sensor seen by the service
type Device struct {
	DeviceName string    `json:"device_name"`
	Source     string    `json:"source"` // mqtt, relay
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	LastValue  float64   `json:"last_value"`
}
