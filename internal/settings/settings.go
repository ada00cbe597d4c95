// Package settings holds the operator-tunable throttle parameters: the
// shared temperature threshold and the intensity floor.
package settings

import (
	"fmt"
	"math"
	"sync/atomic"
)

const (
	// MinThreshold and MaxThreshold bound the temperature threshold, °C.
	MinThreshold = 60.0
	MaxThreshold = 95.0
	// DefaultThreshold is used until the operator configures one.
	DefaultThreshold = 80.0

	// MinFloor and MaxFloor bound the intensity floor.
	MinFloor = 1
	MaxFloor = 90
	// DefaultFloor is the lowest intensity the throttle loop reduces to.
	DefaultFloor = 10
)

// ValidationError reports a setting outside its accepted range. Nothing is
// changed when it is returned.
type ValidationError struct {
	Field string
	Value float64
	Min   float64
	Max   float64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %g out of range [%g, %g]", e.Field, e.Value, e.Min, e.Max)
}

// ValidateThreshold checks a temperature threshold in °C.
func ValidateThreshold(celsius float64) error {
	if math.IsNaN(celsius) || celsius < MinThreshold || celsius > MaxThreshold {
		return &ValidationError{Field: "temperature_threshold", Value: celsius, Min: MinThreshold, Max: MaxThreshold}
	}
	return nil
}

// ValidateFloor checks an intensity floor.
func ValidateFloor(floor int) error {
	if floor < MinFloor || floor > MaxFloor {
		return &ValidationError{Field: "throttle_floor", Value: float64(floor), Min: MinFloor, Max: MaxFloor}
	}
	return nil
}

// Threshold is the shared temperature threshold. Reads and writes are
// atomic, so a sampling tick that captured the value at its start keeps
// using it even if it is changed mid-tick.
type Threshold struct {
	bits atomic.Uint64
}

// NewThreshold creates a threshold holding celsius.
func NewThreshold(celsius float64) (*Threshold, error) {
	if err := ValidateThreshold(celsius); err != nil {
		return nil, err
	}
	t := &Threshold{}
	t.bits.Store(math.Float64bits(celsius))
	return t, nil
}

// Get returns the current threshold in °C.
func (t *Threshold) Get() float64 {
	return math.Float64frombits(t.bits.Load())
}

// Set replaces the threshold. An out-of-range value returns a
// *ValidationError and leaves the previous value in place.
func (t *Threshold) Set(celsius float64) error {
	if err := ValidateThreshold(celsius); err != nil {
		return err
	}
	t.bits.Store(math.Float64bits(celsius))
	return nil
}
