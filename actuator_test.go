package jetracer

import (
	"sync"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
	"periph.io/x/conn/v3/gpio"

	"go.viam.com/rdk/logging"
)

type write struct {
	channel int
	value   float64
}

type fakeActuator struct {
	mu     sync.Mutex
	writes []write
	fail   func(channel int, value float64) error
	closed bool
}

func (f *fakeActuator) SetOutput(channel int, value float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, write{channel, value})
	if f.fail != nil {
		return f.fail(channel, value)
	}
	return nil
}

func (f *fakeActuator) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// channelWrites returns the values written to channel, in order.
func (f *fakeActuator) channelWrites(channel int) []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []float64
	for _, w := range f.writes {
		if w.channel == channel {
			out = append(out, w.value)
		}
	}
	return out
}

type pwmCall struct {
	channel int
	off     gpio.Duty
}

type fakePWM struct {
	calls []pwmCall
}

func (f *fakePWM) SetPwm(channel int, on, off gpio.Duty) error {
	if on != 0 {
		return errors.New("on count should always be zero")
	}
	f.calls = append(f.calls, pwmCall{channel, off})
	return nil
}

func TestContinuousServoTicks(t *testing.T) {
	for _, tc := range []struct {
		value float64
		freq  int
		ticks gpio.Duty
	}{
		{0, 60, 369},   // 1500us
		{1, 60, 553},   // 2250us
		{-1, 60, 184},  // 750us
		{0.5, 60, 461}, // 1875us
		{0, 50, 307},   // 1500us
	} {
		ticks, err := continuousServoTicks(tc.value, tc.freq)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, ticks, test.ShouldEqual, tc.ticks)
	}

	_, err := continuousServoTicks(1.2, 60)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = continuousServoTicks(-1.01, 60)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = continuousServoTicks(0, 0)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPCA9685Actuator(t *testing.T) {
	dev := &fakePWM{}
	a := newPCA9685Actuator(nil, dev, 60, logging.NewTestLogger(t))

	test.That(t, a.SetOutput(1, 0), test.ShouldBeNil)
	test.That(t, a.SetOutput(0, 1), test.ShouldBeNil)
	test.That(t, dev.calls, test.ShouldResemble, []pwmCall{{1, 369}, {0, 553}})

	test.That(t, a.SetOutput(16, 0), test.ShouldNotBeNil)
	test.That(t, a.SetOutput(-1, 0), test.ShouldNotBeNil)
	test.That(t, a.SetOutput(0, 2), test.ShouldNotBeNil)
	test.That(t, dev.calls, test.ShouldHaveLength, 2)

	test.That(t, a.Close(), test.ShouldBeNil)
}
