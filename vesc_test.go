package jetracer

import (
	"context"
	"encoding/binary"
	"io"
	"sync"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/go-daq/canbus"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"go.viam.com/rdk/components/base"
	"go.viam.com/rdk/logging"
)

type fakeSocket struct {
	mu   sync.Mutex
	sent []canbus.Frame

	incoming chan canbus.Frame
	done     chan struct{}
	once     sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{incoming: make(chan canbus.Frame, 8), done: make(chan struct{})}
}

func (s *fakeSocket) Send(frame canbus.Frame) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, frame)
	return len(frame.Data), nil
}

func (s *fakeSocket) Recv() (canbus.Frame, error) {
	select {
	case f := <-s.incoming:
		return f, nil
	case <-s.done:
		return canbus.Frame{}, io.EOF
	}
}

func (s *fakeSocket) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *fakeSocket) frames() []canbus.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]canbus.Frame(nil), s.sent...)
}

func TestVESCSetOutput(t *testing.T) {
	sock := newFakeSocket()
	a := newVESCActuator(sock, logging.NewTestLogger(t))
	defer a.Close()

	test.That(t, a.SetOutput(12, 0.5), test.ShouldBeNil)
	test.That(t, a.SetOutput(12, -0.25), test.ShouldBeNil)
	test.That(t, a.SetOutput(12, 1.5), test.ShouldNotBeNil)
	test.That(t, a.SetOutput(300, 0), test.ShouldNotBeNil)

	frames := sock.frames()
	test.That(t, frames, test.ShouldHaveLength, 2)
	test.That(t, frames[0].ID, test.ShouldEqual, uint32(12))
	test.That(t, frames[0].Kind, test.ShouldEqual, canbus.EFF)
	test.That(t, int32(binary.BigEndian.Uint32(frames[0].Data)), test.ShouldEqual, int32(50000))
	test.That(t, int32(binary.BigEndian.Uint32(frames[1].Data)), test.ShouldEqual, int32(-25000))
}

func TestVESCExtendedID(t *testing.T) {
	test.That(t, vescExtendedID(vescPacketStatus, 7), test.ShouldEqual, uint32(0x0907))
	test.That(t, vescExtendedID(vescPacketSetDuty, 255), test.ShouldEqual, uint32(0xFF))
}

func TestVESCTelemetry(t *testing.T) {
	sock := newFakeSocket()
	a := newVESCActuator(sock, logging.NewTestLogger(t))
	defer a.Close()

	_, ok := a.Telemetry(1)
	test.That(t, ok, test.ShouldBeFalse)

	data := make([]byte, 8)
	binary.BigEndian.PutUint32(data[0:4], uint32(4200))
	binary.BigEndian.PutUint16(data[4:6], uint16(125))
	binary.BigEndian.PutUint16(data[6:8], uint16(300))
	sock.incoming <- canbus.Frame{ID: vescExtendedID(vescPacketStatus, 1), Data: data, Kind: canbus.EFF}

	// other ids and short frames are ignored
	sock.incoming <- canbus.Frame{ID: vescExtendedID(vescPacketStatus, 2), Data: data[:4], Kind: canbus.EFF}

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		tm, ok := a.Telemetry(1)
		test.That(tb, ok, test.ShouldBeTrue)
		test.That(tb, tm["rpm"], test.ShouldEqual, int32(4200))
		test.That(tb, tm["current"], test.ShouldAlmostEqual, 12.5)
		test.That(tb, tm["duty_cycle"], test.ShouldAlmostEqual, 0.3, 1e-6)
	})

	_, ok = a.Telemetry(2)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestRacecarVESCThrottle(t *testing.T) {
	sock := newFakeSocket()
	servo := &fakeActuator{}
	vesc := newVESCActuator(sock, logging.NewTestLogger(t))
	rc, err := newRacecar(
		base.Named("car"),
		&Config{Driver: DriverVESCCAN, CANInterface: "can0"},
		servo, vesc,
		clock.NewMock(),
		logging.NewTestLogger(t),
	)
	test.That(t, err, test.ShouldBeNil)

	// steering stays on the servo channel; only throttle goes over CAN to VESC id 1
	test.That(t, rc.SetSteering(1), test.ShouldBeNil)
	test.That(t, rc.SetThrottle(0.05), test.ShouldBeNil)
	test.That(t, servo.channelWrites(0), test.ShouldHaveLength, 2)
	test.That(t, servo.channelWrites(0)[1], test.ShouldEqual, -0.65)
	test.That(t, servo.channelWrites(1), test.ShouldBeEmpty)

	frames := sock.frames()
	test.That(t, frames, test.ShouldHaveLength, 2)
	for _, f := range frames {
		test.That(t, f.ID, test.ShouldEqual, vescExtendedID(vescPacketSetDuty, 1))
	}
	test.That(t, int32(binary.BigEndian.Uint32(frames[1].Data)), test.ShouldEqual, int32(4000))

	data := make([]byte, 8)
	binary.BigEndian.PutUint32(data[0:4], uint32(1000))
	binary.BigEndian.PutUint16(data[4:6], uint16(240))
	sock.incoming <- canbus.Frame{ID: vescExtendedID(vescPacketStatus5, 1), Data: data, Kind: canbus.EFF}

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		resp, err := rc.DoCommand(context.Background(), map[string]interface{}{"state": true})
		test.That(tb, err, test.ShouldBeNil)
		tm, ok := resp["telemetry"].(map[string]interface{})
		test.That(tb, ok, test.ShouldBeTrue)
		test.That(tb, tm["tachometer"], test.ShouldEqual, int32(1000))
		test.That(tb, tm["input_voltage"], test.ShouldAlmostEqual, 24.0)
		test.That(tb, tm["last_update"], test.ShouldNotBeEmpty)
	})

	test.That(t, rc.Close(context.Background()), test.ShouldBeNil)
	test.That(t, servo.closed, test.ShouldBeTrue)
}
