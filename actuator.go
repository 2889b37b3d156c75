package jetracer

import (
	"math"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/pca9685"
	"periph.io/x/host/v3"

	"go.viam.com/rdk/logging"
)

// Actuator drives continuous-rotation outputs, one per channel.
type Actuator interface {
	// SetOutput sets channel to value, -1 full reverse to 1 full forward.
	SetOutput(channel int, value float64) error
	Close() error
}

const (
	pcaChannels   = 16
	pcaResolution = 4096

	// continuous servo pulse range
	minPulseMicros = 750.0
	maxPulseMicros = 2250.0
)

type pwmDevice interface {
	SetPwm(channel int, on, off gpio.Duty) error
}

type pca9685Actuator struct {
	logger logging.Logger
	bus    i2c.BusCloser
	dev    pwmDevice
	freqHz int
}

// NewPCA9685Actuator opens the I2C bus and configures a PCA9685 at address for continuous servos.
func NewPCA9685Actuator(busName string, address, freqHz int, logger logging.Logger) (Actuator, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize periph host")
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open I2C bus %q", busName)
	}

	dev, err := pca9685.NewI2C(bus, uint16(address))
	if err != nil {
		bus.Close()
		return nil, errors.Wrapf(err, "failed to open PCA9685 at 0x%02x", address)
	}

	if err := dev.SetPwmFreq(physic.Frequency(freqHz) * physic.Hertz); err != nil {
		bus.Close()
		return nil, errors.Wrapf(err, "failed to set PWM frequency %d Hz", freqHz)
	}

	logger.Debugf("PCA9685 ready on bus %q address 0x%02x at %d Hz", busName, address, freqHz)

	return newPCA9685Actuator(bus, dev, freqHz, logger), nil
}

func newPCA9685Actuator(bus i2c.BusCloser, dev pwmDevice, freqHz int, logger logging.Logger) *pca9685Actuator {
	return &pca9685Actuator{
		logger: logger,
		bus:    bus,
		dev:    dev,
		freqHz: freqHz,
	}
}

func (a *pca9685Actuator) SetOutput(channel int, value float64) error {
	if channel < 0 || channel >= pcaChannels {
		return errors.Errorf("channel must be between 0 and %d, got %d", pcaChannels-1, channel)
	}
	off, err := continuousServoTicks(value, a.freqHz)
	if err != nil {
		return err
	}
	return a.dev.SetPwm(channel, 0, off)
}

func (a *pca9685Actuator) Close() error {
	if a.bus == nil {
		return nil
	}
	return a.bus.Close()
}

// continuousServoTicks converts a throttle value to the PCA9685 off-count of one PWM period.
func continuousServoTicks(value float64, freqHz int) (gpio.Duty, error) {
	if value < -1.0 || value > 1.0 || math.IsNaN(value) {
		return 0, errors.Errorf("throttle must be between -1.0 and 1.0, got %f", value)
	}
	if freqHz <= 0 {
		return 0, errors.Errorf("invalid PWM frequency %d", freqHz)
	}

	fraction := (value + 1) / 2
	pulse := minPulseMicros + fraction*(maxPulseMicros-minPulseMicros)
	ticks := math.Round(pulse * float64(freqHz) * pcaResolution / 1e6)
	if ticks > pcaResolution-1 {
		ticks = pcaResolution - 1
	}
	return gpio.Duty(ticks), nil
}
