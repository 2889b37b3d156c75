package jetracer

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/rdk/components/base"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
)

var (
	RacecarModel = resource.NewModel("jetracer", "racecar", "racecar")

	errNoOdometry = errors.New("racecar has no odometry; use SetPower")
)

func init() {
	resource.RegisterComponent(base.API, RacecarModel,
		resource.Registration[base.Base, *Config]{
			Constructor: newRacecarBase,
		},
	)
}

// Racecar is a steering/throttle vehicle. Setting a property drives its channel before returning;
// throttle increases are soft-started in the background.
type Racecar interface {
	base.Base

	SetSteering(value float64) error
	SetThrottle(value float64) error
	Steering() float64
	Throttle() float64
	RampState() RampSnapshot
}

type racecar struct {
	resource.AlwaysRebuild

	name   resource.Name
	logger logging.Logger
	cfg    *Config

	steeringActuator Actuator
	throttleActuator Actuator
	steering         *steeringPassThrough
	throttle         *throttleRamp

	// held across a property write and its handler so the stored value matches the last one applied
	mu            sync.Mutex
	steeringValue float64
	throttleValue float64
	closed        bool
}

func newRacecarBase(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (base.Base, error) {
	conf, err := resource.NativeConfig[*Config](rawConf)
	if err != nil {
		return nil, err
	}

	return NewRacecar(ctx, deps, rawConf.ResourceName(), conf, logger)
}

// NewRacecar opens the configured drivers and centers both channels. Steering is always a PCA9685
// servo channel; with the vesc-can driver only the throttle runs over CAN.
func NewRacecar(ctx context.Context, deps resource.Dependencies, name resource.Name, conf *Config, logger logging.Logger) (Racecar, error) {
	steeringActuator, err := NewPCA9685Actuator(conf.I2CBus, conf.i2cAddress(), conf.pwmFrequency(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s driver: %w", DriverPCA9685, err)
	}

	throttleActuator := steeringActuator
	if conf.driver() == DriverVESCCAN {
		throttleActuator, err = NewVESCActuator(conf.CANInterface, logger)
		if err != nil {
			return nil, multierr.Combine(
				fmt.Errorf("failed to open %s driver: %w", DriverVESCCAN, err),
				steeringActuator.Close(),
			)
		}
	}

	rc, err := newRacecar(name, conf, steeringActuator, throttleActuator, clock.New(), logger)
	if err != nil {
		return nil, multierr.Combine(err, closeActuators(steeringActuator, throttleActuator))
	}
	return rc, nil
}

func newRacecar(
	name resource.Name,
	conf *Config,
	steeringActuator, throttleActuator Actuator,
	clk clock.Clock,
	logger logging.Logger,
) (*racecar, error) {
	rc := &racecar{
		name:             name,
		logger:           logger,
		cfg:              conf,
		steeringActuator: steeringActuator,
		throttleActuator: throttleActuator,
		steering: &steeringPassThrough{
			actuator: steeringActuator,
			channel:  conf.steeringChannel(),
			gain:     conf.steeringGain(),
			offset:   conf.SteeringOffset,
		},
		throttle: newThrottleRamp(throttleActuator, conf.throttleChannel(), conf.throttleGain(), clk, logger),
	}

	if err := steeringActuator.SetOutput(conf.steeringChannel(), 0); err != nil {
		return nil, fmt.Errorf("failed to zero steering channel %d: %w", conf.steeringChannel(), err)
	}
	if err := throttleActuator.SetOutput(conf.throttleChannel(), 0); err != nil {
		return nil, fmt.Errorf("failed to zero throttle channel %d: %w", conf.throttleChannel(), err)
	}

	return rc, nil
}

func closeActuators(steeringActuator, throttleActuator Actuator) error {
	if steeringActuator == throttleActuator {
		return steeringActuator.Close()
	}
	return multierr.Combine(steeringActuator.Close(), throttleActuator.Close())
}

func (rc *racecar) Name() resource.Name {
	return rc.name
}

func (rc *racecar) SetSteering(value float64) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		return errClosed
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return errors.Errorf("steering %v is not finite", value)
	}
	rc.steeringValue = value
	return rc.steering.OnSteeringChanged(value)
}

func (rc *racecar) SetThrottle(value float64) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	err := rc.throttle.OnThrottleChanged(value)
	if errors.Is(err, errClosed) || errors.Is(err, errNonFiniteThrottle) {
		return err
	}
	rc.throttleValue = value
	return err
}

func (rc *racecar) Steering() float64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.steeringValue
}

func (rc *racecar) Throttle() float64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.throttleValue
}

func (rc *racecar) RampState() RampSnapshot {
	return rc.throttle.Snapshot()
}

// SetPower maps linear.Y to throttle and angular.Z to steering.
func (rc *racecar) SetPower(ctx context.Context, linear, angular r3.Vector, extra map[string]interface{}) error {
	if err := rc.SetSteering(angular.Z); err != nil {
		return err
	}
	return rc.SetThrottle(linear.Y)
}

func (rc *racecar) SetVelocity(ctx context.Context, linear, angular r3.Vector, extra map[string]interface{}) error {
	return errNoOdometry
}

func (rc *racecar) MoveStraight(ctx context.Context, distanceMm int, mmPerSec float64, extra map[string]interface{}) error {
	return errNoOdometry
}

func (rc *racecar) Spin(ctx context.Context, angleDeg, degsPerSec float64, extra map[string]interface{}) error {
	return errNoOdometry
}

func (rc *racecar) Properties(ctx context.Context, extra map[string]interface{}) (base.Properties, error) {
	return base.Properties{
		TurningRadiusMeters: rc.cfg.TurningRadiusM,
		WidthMeters:         rc.cfg.WidthMM / 1000,
	}, nil
}

func (rc *racecar) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	return nil, nil
}

func (rc *racecar) Stop(ctx context.Context, extra map[string]interface{}) error {
	return multierr.Combine(rc.SetThrottle(0), rc.SetSteering(0))
}

func (rc *racecar) IsMoving(ctx context.Context) (bool, error) {
	s := rc.throttle.Snapshot()
	return s.Ramping || s.Status != 0, nil
}

// DoCommand accepts "steering" and "throttle" values, and "state" to report the ramp.
func (rc *racecar) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	if v, ok := cmd["steering"]; ok {
		f, ok := v.(float64)
		if !ok {
			return nil, errors.Errorf("steering must be a number, got %T", v)
		}
		if err := rc.SetSteering(f); err != nil {
			return nil, err
		}
	}
	if v, ok := cmd["throttle"]; ok {
		f, ok := v.(float64)
		if !ok {
			return nil, errors.Errorf("throttle must be a number, got %T", v)
		}
		if err := rc.SetThrottle(f); err != nil {
			return nil, err
		}
	}

	mm := map[string]interface{}{}
	if _, ok := cmd["state"]; !ok {
		return mm, nil
	}

	s := rc.throttle.Snapshot()
	mm["status"] = s.Status
	mm["target"] = s.Target
	mm["ramping"] = s.Ramping
	mm["steering"] = rc.Steering()
	mm["throttle"] = rc.Throttle()

	if v, ok := rc.throttleActuator.(*vescActuator); ok {
		if t, ok := v.Telemetry(rc.cfg.throttleChannel()); ok {
			mm["telemetry"] = t
		}
	}

	return mm, nil
}

// Close cancels any pending ramp step and leaves both channels at rest before releasing the drivers.
func (rc *racecar) Close(context.Context) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		return nil
	}
	rc.closed = true
	rc.steeringValue = 0
	rc.throttleValue = 0

	return multierr.Combine(
		rc.throttle.Close(),
		rc.steering.OnSteeringChanged(0),
		closeActuators(rc.steeringActuator, rc.throttleActuator),
	)
}
