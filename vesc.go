package jetracer

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/go-daq/canbus"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/rdk/logging"
)

const (
	vescPacketSetDuty = 0
	vescPacketStatus  = 9
	vescPacketStatus4 = 16
	vescPacketPong    = 18
	vescPacketStatus5 = 27
)

// VESCStatus holds the telemetry last broadcast by one VESC.
type VESCStatus struct {
	RPM       int32
	Current   float32
	DutyCycle float32

	FETTemp   float32
	MotorTemp float32
	CurrentIn float32

	Tachometer   int32
	InputVoltage float32

	LastUpdate time.Time
}

func (s VESCStatus) toMap() map[string]interface{} {
	return map[string]interface{}{
		"rpm":           s.RPM,
		"current":       s.Current,
		"duty_cycle":    s.DutyCycle,
		"fet_temp":      s.FETTemp,
		"motor_temp":    s.MotorTemp,
		"current_in":    s.CurrentIn,
		"tachometer":    s.Tachometer,
		"input_voltage": s.InputVoltage,
		"last_update":   s.LastUpdate.Format(time.RFC3339Nano),
	}
}

type canSocket interface {
	Send(frame canbus.Frame) (int, error)
	Recv() (canbus.Frame, error)
	Close() error
}

// vescActuator treats each channel as a VESC CAN id driven in duty cycle mode.
type vescActuator struct {
	logger logging.Logger

	cancelFunc func()
	socket     canSocket

	statusMu sync.Mutex
	status   map[uint8]VESCStatus
}

// NewVESCActuator binds a CAN socket to iface and starts listening for VESC status frames.
func NewVESCActuator(iface string, logger logging.Logger) (Actuator, error) {
	socket, err := canbus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create CAN socket: %w", err)
	}

	err = socket.Bind(iface)
	if err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to bind to CAN interface %s: %w", iface, err)
	}

	return newVESCActuator(socket, logger), nil
}

func newVESCActuator(socket canSocket, logger logging.Logger) *vescActuator {
	cancelCtx, cancelFunc := context.WithCancel(context.Background())

	a := &vescActuator{
		logger:     logger,
		cancelFunc: cancelFunc,
		socket:     socket,
		status:     map[uint8]VESCStatus{},
	}

	goutils.PanicCapturingGo(func() {
		a.listenForMessages(cancelCtx)
	})

	return a
}

func (a *vescActuator) SetOutput(channel int, value float64) error {
	if channel < 0 || channel > 0xFF {
		return errors.Errorf("VESC id must be between 0 and 255, got %d", channel)
	}
	if value < -1.0 || value > 1.0 {
		return errors.Errorf("duty cycle must be between -1.0 and 1.0, got %f", value)
	}
	return a.sendCommand(uint8(channel), vescPacketSetDuty, int32(value*100000))
}

// Telemetry returns the last status seen from the VESC on channel.
func (a *vescActuator) Telemetry(channel int) (map[string]interface{}, bool) {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()

	s, ok := a.status[uint8(channel)]
	if !ok {
		return nil, false
	}
	return s.toMap(), true
}

func vescExtendedID(command, id uint8) uint32 {
	// 29-bit extended id: command in bits 15-8, VESC id in bits 7-0
	return uint32(command)<<8 | uint32(id)
}

func (a *vescActuator) sendCommand(id, command uint8, value int32) error {
	data := make([]byte, 4)
	binary.BigEndian.PutUint32(data, uint32(value))

	frame := canbus.Frame{
		ID:   vescExtendedID(command, id),
		Data: data,
		Kind: canbus.EFF,
	}

	_, err := a.socket.Send(frame)
	return err
}

func (a *vescActuator) listenForMessages(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			frame, err := a.socket.Recv()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				a.logger.Warnf("Error receiving CAN frame: %v", err)
				continue
			}

			if frame.Kind == canbus.EFF {
				a.handleStatusMessage(frame)
			}
		}
	}
}

func (a *vescActuator) handleStatusMessage(frame canbus.Frame) {
	command := uint8((frame.ID >> 8) & 0xFF)
	senderID := uint8(frame.ID & 0xFF)

	if command == vescPacketPong {
		a.logger.Infof("Received PONG from VESC ID %d", senderID)
		return
	}

	data := frame.Data
	if len(data) < 8 {
		return
	}

	a.statusMu.Lock()
	defer a.statusMu.Unlock()

	s := a.status[senderID]

	switch command {
	case vescPacketStatus:
		s.RPM = int32(binary.BigEndian.Uint32(data[0:4]))
		s.Current = float32(int16(binary.BigEndian.Uint16(data[4:6]))) / 10.0
		s.DutyCycle = float32(int16(binary.BigEndian.Uint16(data[6:8]))) / 1000.0
	case vescPacketStatus4:
		s.FETTemp = float32(int16(binary.BigEndian.Uint16(data[0:2]))) / 10.0
		s.MotorTemp = float32(int16(binary.BigEndian.Uint16(data[2:4]))) / 10.0
		s.CurrentIn = float32(int16(binary.BigEndian.Uint16(data[4:6]))) / 10.0
	case vescPacketStatus5:
		s.Tachometer = int32(binary.BigEndian.Uint32(data[0:4]))
		s.InputVoltage = float32(int16(binary.BigEndian.Uint16(data[4:6]))) / 10.0
	default:
		return
	}

	s.LastUpdate = time.Now()
	a.status[senderID] = s
}

func (a *vescActuator) Close() error {
	a.cancelFunc()
	return a.socket.Close()
}
