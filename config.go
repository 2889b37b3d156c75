package jetracer

import (
	"github.com/pkg/errors"

	"go.viam.com/rdk/resource"
)

const (
	DriverPCA9685 = "pca9685"
	DriverVESCCAN = "vesc-can"

	defaultI2CAddress      = 0x40
	defaultPWMFrequency    = 60
	defaultSteeringGain    = -0.65
	defaultSteeringChannel = 0
	defaultThrottleGain    = 0.8
	defaultThrottleChannel = 1

	// PCA9685 prescaler limits with the internal 25MHz oscillator
	minPWMFrequency = 24
	maxPWMFrequency = 1526
)

// Config describes a racecar: which driver carries the throttle, and the gains applied to both channels.
type Config struct {
	Driver       string `json:"driver,omitempty"`
	I2CBus       string `json:"i2c_bus,omitempty"`
	I2CAddress   *int   `json:"i2c_address,omitempty"`
	PWMFrequency int    `json:"pwm_frequency,omitempty"`
	CANInterface string `json:"can_interface,omitempty"`

	SteeringGain    *float64 `json:"steering_gain,omitempty"`
	SteeringOffset  float64  `json:"steering_offset,omitempty"`
	SteeringChannel *int     `json:"steering_channel,omitempty"`
	ThrottleGain    *float64 `json:"throttle_gain,omitempty"`
	ThrottleChannel *int     `json:"throttle_channel,omitempty"`

	WidthMM        float64 `json:"width_mm,omitempty"`
	TurningRadiusM float64 `json:"turning_radius_m,omitempty"`
}

// Validate checks the attributes. Steering is always a PCA9685 servo channel; the driver only picks
// what carries the throttle, so the PCA9685 attributes are checked for both drivers.
func (cfg *Config) Validate(path string) ([]string, []string, error) {
	if cfg.I2CAddress != nil && (*cfg.I2CAddress < 0 || *cfg.I2CAddress > 0x7F) {
		return nil, nil, resource.NewConfigValidationError(path,
			errors.Errorf("i2c_address must be a 7-bit address, got 0x%x", *cfg.I2CAddress))
	}
	if cfg.PWMFrequency != 0 && (cfg.PWMFrequency < minPWMFrequency || cfg.PWMFrequency > maxPWMFrequency) {
		return nil, nil, resource.NewConfigValidationError(path,
			errors.Errorf("pwm_frequency must be between %d and %d Hz", minPWMFrequency, maxPWMFrequency))
	}
	if cfg.steeringChannel() < 0 || cfg.steeringChannel() >= pcaChannels || cfg.throttleChannel() < 0 {
		return nil, nil, resource.NewConfigValidationError(path, errors.New("channel out of range"))
	}

	switch cfg.driver() {
	case DriverPCA9685:
		if cfg.throttleChannel() >= pcaChannels {
			return nil, nil, resource.NewConfigValidationError(path,
				errors.Errorf("throttle_channel must be below %d", pcaChannels))
		}
		if cfg.steeringChannel() == cfg.throttleChannel() {
			return nil, nil, resource.NewConfigValidationError(path,
				errors.New("steering_channel and throttle_channel must differ"))
		}
	case DriverVESCCAN:
		// throttle_channel is the VESC CAN id
		if cfg.CANInterface == "" {
			return nil, nil, resource.NewConfigValidationFieldRequiredError(path, "can_interface")
		}
		if cfg.throttleChannel() > 0xFF {
			return nil, nil, resource.NewConfigValidationError(path,
				errors.New("throttle_channel must be a VESC id below 256"))
		}
	default:
		return nil, nil, resource.NewConfigValidationError(path,
			errors.Errorf("unknown driver %q, want %q or %q", cfg.Driver, DriverPCA9685, DriverVESCCAN))
	}

	return nil, nil, nil
}

func (cfg *Config) driver() string {
	if cfg.Driver == "" {
		return DriverPCA9685
	}
	return cfg.Driver
}

func (cfg *Config) i2cAddress() int {
	if cfg.I2CAddress == nil {
		return defaultI2CAddress
	}
	return *cfg.I2CAddress
}

func (cfg *Config) pwmFrequency() int {
	if cfg.PWMFrequency == 0 {
		return defaultPWMFrequency
	}
	return cfg.PWMFrequency
}

func (cfg *Config) steeringGain() float64 {
	if cfg.SteeringGain == nil {
		return defaultSteeringGain
	}
	return *cfg.SteeringGain
}

func (cfg *Config) throttleGain() float64 {
	if cfg.ThrottleGain == nil {
		return defaultThrottleGain
	}
	return *cfg.ThrottleGain
}

func (cfg *Config) steeringChannel() int {
	if cfg.SteeringChannel == nil {
		return defaultSteeringChannel
	}
	return *cfg.SteeringChannel
}

func (cfg *Config) throttleChannel() int {
	if cfg.ThrottleChannel == nil {
		return defaultThrottleChannel
	}
	return *cfg.ThrottleChannel
}
