package collector

import (
	"fmt"
	"time"

	"github.com/goburrow/modbus"

	"github.com/kdvlr/modbustt/models"
)

// responseTimeout bounds how long a single Modbus primitive call may
// block before it is considered a fault. goburrow/modbus does not
// expose a separate byte-level timeout knob distinct from the overall
// response timeout, so this is the only timeout configured here — see
// DESIGN.md.
const responseTimeout = 1 * time.Second

// deviceHandler is the subset of goburrow/modbus's TCP/RTU client
// handlers this package depends on: connection lifecycle only. Reads
// go through registerReader instead.
type deviceHandler interface {
	Connect() error
	Close() error
}

// registerReader is the subset of modbus.Client this package uses.
// modbus.Client already satisfies this interface structurally.
type registerReader interface {
	ReadCoils(address, quantity uint16) (results []byte, err error)
	ReadDiscreteInputs(address, quantity uint16) (results []byte, err error)
	ReadHoldingRegisters(address, quantity uint16) (results []byte, err error)
	ReadInputRegisters(address, quantity uint16) (results []byte, err error)
}

// newDeviceTransport builds the handler+client pair for cfg's
// transport variant. The caller owns the returned handler exclusively
// and must Close it on any exit from the Reading state.
func newDeviceTransport(cfg models.CollectorConfig) (deviceHandler, registerReader, error) {
	switch cfg.Transport {
	case models.TransportTCP:
		handler := modbus.NewTCPClientHandler(fmt.Sprintf("%s:%d", cfg.TCP.Host, cfg.TCP.Port))
		handler.Timeout = responseTimeout
		handler.SlaveId = cfg.UnitID
		return handler, modbus.NewClient(handler), nil

	case models.TransportRTU:
		handler := modbus.NewRTUClientHandler(cfg.RTU.SerialPath)
		handler.BaudRate = cfg.RTU.Baud
		handler.DataBits = cfg.RTU.DataBits
		handler.Parity = cfg.RTU.Parity
		handler.StopBits = cfg.RTU.StopBits
		handler.SlaveId = cfg.UnitID
		handler.Timeout = responseTimeout
		return handler, modbus.NewClient(handler), nil

	default:
		return nil, nil, fmt.Errorf("unsupported transport %q for device %s", cfg.Transport, cfg.DeviceID)
	}
}
