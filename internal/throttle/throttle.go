// Package throttle implements the per-device thermal feedback loop. A
// device's intensity is reduced multiplicatively while it runs above the
// threshold and restored along the same curve once it has cooled below
// the hysteresis band.
package throttle

import (
	"math"
	"time"

	"golang.org/x/time/rate"
)

const (
	// MaxIntensity is the unthrottled workload intensity.
	MaxIntensity uint8 = 100
	// Factor is the multiplicative reduction step.
	Factor = 0.9
	// Hysteresis is the band below the threshold in which nothing changes.
	Hysteresis = 5.0
	// MinAdjustInterval separates two adjustments of the same device.
	MinAdjustInterval = 10 * time.Second
	// FloorWarningInterval limits overheat-at-floor warnings per device.
	FloorWarningInterval = time.Minute
)

// Action is the outcome of one controller step.
type Action int

const (
	// ActionNone leaves the device unchanged.
	ActionNone Action = iota
	// ActionReduce lowered the intensity.
	ActionReduce
	// ActionRestore raised the intensity.
	ActionRestore
	// ActionFloorWarning reports a device still overheating at the floor.
	ActionFloorWarning
)

func (a Action) String() string {
	switch a {
	case ActionReduce:
		return "throttle"
	case ActionRestore:
		return "restore"
	case ActionFloorWarning:
		return "overheat_at_floor"
	default:
		return "none"
	}
}

// State is the controller memory of one device.
type State struct {
	Intensity      uint8
	LastAdjustment time.Time
	// Threshold is the value the last decision compared against.
	Threshold float64

	floorWarnings *rate.Limiter
}

// NewState returns the state of a device that just became active.
func NewState() State {
	return State{Intensity: MaxIntensity}
}

// Throttled reports whether the device runs below full intensity.
func (s State) Throttled() bool {
	return s.Intensity < MaxIntensity
}

// Decision describes what a step did.
type Decision struct {
	Action      Action
	Previous    uint8
	Intensity   uint8
	Temperature float64
	Threshold   float64
}

// Reduce returns the next lower intensity. The result always moves by at
// least one step and never drops below floor.
func Reduce(intensity, floor uint8) uint8 {
	next := int(math.Round(float64(intensity) * Factor))
	if next > int(intensity)-1 {
		next = int(intensity) - 1
	}
	if next < int(floor) {
		next = int(floor)
	}
	return uint8(next)
}

// Restore inverts Reduce: it returns the next higher intensity, moving
// by at least one step and never exceeding MaxIntensity.
func Restore(intensity uint8) uint8 {
	next := int(math.Round(float64(intensity) / Factor))
	if next < int(intensity)+1 {
		next = int(intensity) + 1
	}
	if next > int(MaxIntensity) {
		next = int(MaxIntensity)
	}
	return uint8(next)
}

// Controller applies the throttle rules. It holds only configuration; all
// per-device memory lives in State, owned by the caller.
type Controller struct {
	floor uint8
}

// NewController creates a controller with the given intensity floor.
func NewController(floor uint8) *Controller {
	if floor < 1 {
		floor = 1
	}
	if floor > MaxIntensity {
		floor = MaxIntensity
	}
	return &Controller{floor: floor}
}

// Floor returns the configured intensity floor.
func (c *Controller) Floor() uint8 {
	return c.floor
}

// Step advances state for one sampling tick. A nil temperature never
// changes anything: the controller does not guess.
func (c *Controller) Step(state *State, temperature *float64, threshold float64, now time.Time) Decision {
	decision := Decision{Previous: state.Intensity, Intensity: state.Intensity, Threshold: threshold}
	if temperature == nil {
		return decision
	}
	t := *temperature
	decision.Temperature = t

	eligible := state.LastAdjustment.IsZero() || now.Sub(state.LastAdjustment) >= MinAdjustInterval

	switch {
	case t > threshold:
		if state.Intensity <= c.floor {
			if c.allowFloorWarning(state, now) {
				decision.Action = ActionFloorWarning
			}
			return decision
		}
		if !eligible {
			return decision
		}
		state.Intensity = Reduce(state.Intensity, c.floor)
		state.LastAdjustment = now
		state.Threshold = threshold
		decision.Action = ActionReduce
		decision.Intensity = state.Intensity

	case t < threshold-Hysteresis && state.Intensity < MaxIntensity:
		if !eligible {
			return decision
		}
		state.Intensity = Restore(state.Intensity)
		state.LastAdjustment = now
		state.Threshold = threshold
		decision.Action = ActionRestore
		decision.Intensity = state.Intensity
	}

	return decision
}

func (c *Controller) allowFloorWarning(state *State, now time.Time) bool {
	if state.floorWarnings == nil {
		state.floorWarnings = rate.NewLimiter(rate.Every(FloorWarningInterval), 1)
	}
	return state.floorWarnings.AllowN(now, 1)
}
