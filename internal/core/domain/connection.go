package domain

import "time"

// Quality is the coarse verdict on the current network link.
// Callers use it only to decide whether to defer non-critical work.
type Quality string

const (
	QualityFast    Quality = "fast"
	QualitySlow    Quality = "slow"
	QualityOffline Quality = "offline"
)

// ConnectionState is a point-in-time sample of the device's network signals.
// It is replaced wholesale on every sample and is read-only outside the monitor.
type ConnectionState struct {
	IsOnline       bool          `json:"is_online"`
	Quality        Quality       `json:"quality"`
	RoundTrip      time.Duration `json:"round_trip_ms"`
	BandwidthClass string        `json:"bandwidth_class"`
	SaveData       bool          `json:"save_data"`
	SampledAt      time.Time     `json:"sampled_at"`
}
