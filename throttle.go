package jetracer

import (
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.viam.com/rdk/logging"
)

const (
	// outputs strictly inside (-brakeBand, brakeBand) are applied without ramping
	brakeBand = 0.1
	rampStep  = 0.18
	// RampPeriod is the delay between soft-start steps.
	RampPeriod = 1200 * time.Millisecond
)

var (
	errClosed            = errors.New("racecar is closed")
	errNonFiniteThrottle = errors.New("throttle output is not finite")
)

type rampState int

const (
	rampIdle rampState = iota
	rampRamping
)

// RampSnapshot is a consistent view of a throttle ramp.
type RampSnapshot struct {
	Status  float64
	Target  float64
	Ramping bool
}

// throttleRamp soft-starts the throttle channel. status is the last value written to the actuator,
// target the latest gain-scaled request. pending is non-nil exactly when state is rampRamping.
type throttleRamp struct {
	logger   logging.Logger
	clk      clock.Clock
	actuator Actuator
	channel  int
	gain     float64

	mu      sync.Mutex
	status  float64
	target  float64
	state   rampState
	pending *clock.Timer
	// bumped whenever pending is cancelled so a step already in flight stands down
	generation uint64
	closed     bool
}

func newThrottleRamp(actuator Actuator, channel int, gain float64, clk clock.Clock, logger logging.Logger) *throttleRamp {
	return &throttleRamp{
		logger:   logger,
		clk:      clk,
		actuator: actuator,
		channel:  channel,
		gain:     gain,
	}
}

// OnThrottleChanged applies a raw throttle request. Braking and near-zero requests are written
// immediately; everything else starts a ramp, or retargets the one already running.
func (r *throttleRamp) OnThrottleChanged(raw float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errClosed
	}
	target := raw * r.gain
	if math.IsNaN(target) || math.IsInf(target, 0) {
		return errors.Wrapf(errNonFiniteThrottle, "throttle %v", raw)
	}
	r.target = target

	switch {
	case r.target > -brakeBand && r.target < brakeBand,
		r.target < r.status && r.status > 0:
		r.cancelPendingLocked()
		r.status = r.target
		return r.actuator.SetOutput(r.channel, r.status)
	case r.state == rampRamping:
		// the pending step reads the new target when it fires
		return nil
	default:
		return r.stepLocked()
	}
}

// stepLocked moves status one step toward target, writes it, and schedules the next step
// if target is still out of reach.
func (r *throttleRamp) stepLocked() error {
	if r.status <= r.target {
		r.status += rampStep
		if r.status >= r.target {
			r.status = r.target
		}
	} else {
		r.status -= rampStep
		if r.status <= r.target {
			r.status = r.target
		}
	}

	err := r.actuator.SetOutput(r.channel, r.status)

	if r.status != r.target {
		generation := r.generation
		r.state = rampRamping
		r.pending = r.clk.AfterFunc(RampPeriod, func() {
			r.fire(generation)
		})
	} else {
		r.state = rampIdle
		r.pending = nil
	}

	return err
}

func (r *throttleRamp) fire(generation uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if generation != r.generation || r.state != rampRamping {
		return
	}
	r.pending = nil
	if err := r.stepLocked(); err != nil {
		r.logger.Warnf("throttle ramp step on channel %d failed: %v", r.channel, err)
	}
}

func (r *throttleRamp) cancelPendingLocked() {
	if r.pending != nil {
		r.pending.Stop()
		r.pending = nil
	}
	r.generation++
	r.state = rampIdle
}

// Snapshot returns the current status, target and whether a step is pending.
func (r *throttleRamp) Snapshot() RampSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	return RampSnapshot{
		Status:  r.status,
		Target:  r.target,
		Ramping: r.state == rampRamping,
	}
}

// Close cancels any pending step and writes a final zero. Later requests fail with errClosed.
func (r *throttleRamp) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.cancelPendingLocked()
	r.closed = true
	r.status = 0
	r.target = 0
	return r.actuator.SetOutput(r.channel, 0)
}
