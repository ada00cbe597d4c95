package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ZerkerEOD/gpuguard/internal/hardware/types"
	"github.com/ZerkerEOD/gpuguard/internal/snapshot"
	"github.com/ZerkerEOD/gpuguard/internal/stats"
	"github.com/ZerkerEOD/gpuguard/internal/throttle"
	"github.com/ZerkerEOD/gpuguard/pkg/debug"
)

func (e *Engine) sampleLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := e.clock.Ticker(SampleInterval)
	defer ticker.Stop()

	e.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) snapshotLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := e.clock.Ticker(SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.snapshots.Publish(e.buildSnapshot(ctx))
		}
	}
}

// tick samples every device once and runs the controller on each result
// as soon as it arrives. The threshold is captured once, so a concurrent
// change applies from the next tick.
func (e *Engine) tick(ctx context.Context) {
	threshold := e.threshold.Get()
	devices := e.tracker.Devices()
	if len(devices) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(e.maxParallel)
	for _, device := range devices {
		g.Go(func() error {
			e.sampleDevice(ctx, device, threshold)
			return nil
		})
	}
	_ = g.Wait()
}

// sampleDevice isolates one device: nothing that goes wrong here reaches
// the other devices or the snapshot loop.
func (e *Engine) sampleDevice(ctx context.Context, device types.Device, threshold float64) {
	defer func() {
		if r := recover(); r != nil {
			e.fault(device, fmt.Sprintf("internal error while sampling: %v", r))
		}
	}()

	if status, _, ok := e.tracker.Status(device.Index); !ok || status == stats.StatusError {
		return
	}

	metrics, err := e.sampler.Sample(ctx, device)
	if err != nil {
		e.fault(device, err.Error())
		return
	}

	decision, err := e.tracker.ObserveHealth(device, metrics, e.controller, threshold)
	if err != nil {
		// The device set changed under the tick; the next tick uses the new one.
		debug.Debug("Dropping sample for %s: %v", device, err)
		return
	}
	e.emitDecision(device.Index, decision)
}

// fault marks the sampled device as faulted, unless the index was handed
// to another GPU while the sample was in flight.
func (e *Engine) fault(device types.Device, reason string) {
	changed, err := e.tracker.FaultDevice(device, reason)
	if err != nil {
		debug.Debug("Dropping fault for %s: %v", device, err)
		return
	}
	if changed {
		e.publishFault(device.Index, reason)
	}
}

func (e *Engine) emitDecision(index int, decision throttle.Decision) {
	var kind snapshot.EventKind
	switch decision.Action {
	case throttle.ActionReduce:
		kind = snapshot.EventThrottle
	case throttle.ActionRestore:
		kind = snapshot.EventRestore
	case throttle.ActionFloorWarning:
		kind = snapshot.EventOverheatAtFloor
	default:
		return
	}

	event := snapshot.NewEvent(kind, index, e.clock.Now())
	event.PreviousIntensity = decision.Previous
	event.NewIntensity = decision.Intensity
	event.Temperature = &decision.Temperature
	event.Threshold = decision.Threshold
	if kind == snapshot.EventOverheatAtFloor {
		event.Message = fmt.Sprintf("still above %.1f°C at the intensity floor", decision.Threshold)
	}
	e.publishEvent(event)
}

func (e *Engine) buildSnapshot(ctx context.Context) snapshot.Snapshot {
	snap := snapshot.New(e.tracker.Views(), e.threshold.Get(), e.clock.Now())
	if e.host != nil {
		host := e.host.Collect(ctx)
		snap.Host = &host
	}
	return snap
}
