package stats

import (
	"encoding/json"
	"fmt"
)

// Status is the mining state of one device.
type Status int

const (
	StatusIdle Status = iota
	StatusActive
	StatusThrottled
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusThrottled:
		return "throttled"
	case StatusError:
		return "error"
	default:
		return "idle"
	}
}

// MarshalJSON encodes the status as its name
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a status name
func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "idle":
		*s = StatusIdle
	case "active":
		*s = StatusActive
	case "throttled":
		*s = StatusThrottled
	case "error":
		*s = StatusError
	default:
		return fmt.Errorf("unknown status %q", name)
	}
	return nil
}

// MiningStats is the per-device performance view. The efficiency ratios
// are derived when a snapshot is taken and are nil whenever their
// denominator is missing or not positive.
type MiningStats struct {
	DeviceIndex int     `json:"device_index"`
	Hashrate    float64 `json:"hashrate"`
	BlocksFound uint64  `json:"blocks_found"`
	TotalHashes uint64  `json:"total_hashes"`

	// UptimeSeconds covers the current mining session,
	// TotalUptimeSeconds every session ever recorded for the device.
	UptimeSeconds      uint64 `json:"uptime_seconds"`
	TotalUptimeSeconds uint64 `json:"total_uptime_seconds"`

	Status      Status `json:"status"`
	ErrorReason string `json:"error_reason,omitempty"`
	Intensity   uint8  `json:"intensity"`

	EnergyEfficiency  *float64 `json:"energy_efficiency"`  // H/s per W
	ThermalEfficiency *float64 `json:"thermal_efficiency"` // H/s per °C
}

// EnergyEfficiency returns hashrate per watt, or nil without a positive
// power reading.
func EnergyEfficiency(hashrate float64, power *float64) *float64 {
	if power == nil || *power <= 0 {
		return nil
	}
	ratio := hashrate / *power
	return &ratio
}

// ThermalEfficiency returns hashrate per degree, or nil without a
// positive temperature reading.
func ThermalEfficiency(hashrate float64, temperature *float64) *float64 {
	if temperature == nil || *temperature <= 0 {
		return nil
	}
	ratio := hashrate / *temperature
	return &ratio
}
