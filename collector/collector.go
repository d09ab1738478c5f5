// Package collector implements the per-device acquisition worker: the
// concurrent state machine that connects to a Modbus device, reads its
// configured registers on a cadence, stays responsive to control
// commands, recovers from link faults, and fans successful cycles out
// to a shared set of exporters.
package collector

import (
	"encoding/binary"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kdvlr/modbustt/exporters"
	"github.com/kdvlr/modbustt/models"
)

// State is one of the runtime states a Collector moves through.
type State string

const (
	StateIdle       State = "Idle"
	StateConnecting State = "Connecting"
	StateReading    State = "Reading"
	StatePaused     State = "Paused"
	StateStopping   State = "Stopping"
	StateTerminated State = "Terminated"
)

// connectBackoff is the delay after a failed connection attempt,
// interruptible by any control message.
const connectBackoff = 5 * time.Second

// MetricsRecorder receives the operational counters a Collector emits.
// A nil MetricsRecorder passed to New is replaced with a no-op
// implementation so metrics are always optional.
type MetricsRecorder interface {
	RecordCycleCompleted(deviceID string)
	RecordCycleFailed(deviceID, reason string)
	RecordRecordExported(deviceID, exporterName string)
	RecordExporterError(deviceID, exporterName string)
	SetConnected(deviceID string, connected bool)
}

type noopMetrics struct{}

func (noopMetrics) RecordCycleCompleted(string)         {}
func (noopMetrics) RecordCycleFailed(string, string)    {}
func (noopMetrics) RecordRecordExported(string, string) {}
func (noopMetrics) RecordExporterError(string, string)  {}
func (noopMetrics) SetConnected(string, bool)           {}

type commandKind int

const (
	cmdPause commandKind = iota
	cmdResume
	cmdSetFrequency
	cmdStop
)

type controlMsg struct {
	kind  commandKind
	param int
}

// Collector drives one device through repeating acquisition cycles.
// Construct with New and Start it explicitly; Stop+Join gives
// deterministic teardown.
type Collector struct {
	cfg       models.CollectorConfig
	exporters []exporters.Exporter
	logger    *log.Logger
	metrics   MetricsRecorder

	controlQueue chan controlMsg
	wake         chan struct{}
	doneCh       chan struct{}
	running      atomic.Bool

	// transportFactory builds the device connection. It defaults to
	// newDeviceTransport; tests override it to exercise the state
	// machine without a real Modbus link.
	transportFactory func(models.CollectorConfig) (deviceHandler, registerReader, error)

	mu           sync.Mutex
	state        State
	lastError    string
	lastReadTime time.Time
}

// New builds a Collector for cfg, sharing the given exporters. logger
// defaults to log.Default() when nil; metrics defaults to a no-op
// recorder when nil.
func New(cfg models.CollectorConfig, exps []exporters.Exporter, logger *log.Logger, metrics MetricsRecorder) *Collector {
	if logger == nil {
		logger = log.Default()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Collector{
		cfg:              cfg,
		exporters:        exps,
		logger:           logger,
		metrics:          metrics,
		controlQueue:     make(chan controlMsg, 16),
		wake:             make(chan struct{}, 1),
		state:            StateIdle,
		transportFactory: newDeviceTransport,
	}
}

// DeviceID returns the id this collector was configured for.
func (c *Collector) DeviceID() string { return c.cfg.DeviceID }

// Start launches the worker goroutine. It is an error to Start a
// collector that is already running.
func (c *Collector) Start() error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("collector %s: already running", c.cfg.DeviceID)
	}
	c.doneCh = make(chan struct{})
	go c.run()
	return nil
}

// Stop raises the stop flag. The worker drains any queued control
// messages, closes its transport and exits at the next suspension
// point; call Join to wait for that.
func (c *Collector) Stop() {
	c.enqueue(controlMsg{kind: cmdStop})
}

// Pause enters the Paused state once any in-flight cycle completes.
func (c *Collector) Pause() {
	c.enqueue(controlMsg{kind: cmdPause})
}

// Resume leaves the Paused state and wakes the idle wait.
func (c *Collector) Resume() {
	c.enqueue(controlMsg{kind: cmdResume})
}

// SetFrequency atomically replaces the acquisition period; it takes
// effect no later than the second cycle after this call.
func (c *Collector) SetFrequency(ms int) {
	c.enqueue(controlMsg{kind: cmdSetFrequency, param: ms})
}

// Join blocks until the worker goroutine has exited.
func (c *Collector) Join() {
	if c.doneCh != nil {
		<-c.doneCh
	}
}

// IsRunning reports whether the worker goroutine is active.
func (c *Collector) IsRunning() bool {
	return c.running.Load()
}

// State returns the collector's current runtime state.
func (c *Collector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the most recent connection or read error message,
// or the empty string if the last attempt succeeded.
func (c *Collector) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// LastReadTime returns the timestamp of the last successfully emitted
// record, or the zero Time if none has been emitted yet.
func (c *Collector) LastReadTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastReadTime
}

func (c *Collector) enqueue(msg controlMsg) {
	c.controlQueue <- msg
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Collector) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Collector) setLastError(err string) {
	c.mu.Lock()
	c.lastError = err
	c.mu.Unlock()
}

func (c *Collector) setLastReadTime(t time.Time) {
	c.mu.Lock()
	c.lastReadTime = t
	c.mu.Unlock()
}

// waitPeriod blocks for d or until a control message wakes it,
// whichever comes first. It never consumes the control message
// itself — that happens at the top of the next loop iteration via
// drainControl's drain-then-act discipline.
func (c *Collector) waitPeriod(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-c.wake:
	}
}

// drainControl consumes every control message queued so far in one
// batch, updating paused/period in place, and reports whether a Stop
// was among them.
func (c *Collector) drainControl(paused *bool, period *time.Duration) bool {
	stop := false
	for {
		select {
		case msg := <-c.controlQueue:
			switch msg.kind {
			case cmdPause:
				*paused = true
				c.logger.Printf("collector %s: paused", c.cfg.DeviceID)
			case cmdResume:
				*paused = false
				c.logger.Printf("collector %s: resumed", c.cfg.DeviceID)
			case cmdSetFrequency:
				*period = time.Duration(msg.param) * time.Millisecond
				c.logger.Printf("collector %s: frequency updated to %dms", c.cfg.DeviceID, msg.param)
			case cmdStop:
				stop = true
			}
		default:
			return stop
		}
	}
}

func (c *Collector) run() {
	defer close(c.doneCh)

	paused := false
	period := time.Duration(c.cfg.Period()) * time.Millisecond

	var handler deviceHandler
	var client registerReader
	connected := false

	for {
		if c.drainControl(&paused, &period) {
			c.setState(StateStopping)
			break
		}

		if paused {
			c.setState(StatePaused)
			c.waitPeriod(24 * time.Hour) // blocks until Resume or Stop wakes it
			continue
		}

		if !connected {
			c.setState(StateConnecting)
			h, cl, err := c.transportFactory(c.cfg)
			if err == nil {
				err = h.Connect()
			}
			if err != nil {
				c.logger.Printf("collector %s: connect failed: %v", c.cfg.DeviceID, err)
				c.setLastError(err.Error())
				c.metrics.SetConnected(c.cfg.DeviceID, false)
				c.waitPeriod(connectBackoff)
				continue
			}
			handler, client = h, cl
			connected = true
			c.metrics.SetConnected(c.cfg.DeviceID, true)
			c.logger.Printf("collector %s: connected", c.cfg.DeviceID)
		}

		c.setState(StateReading)
		record, healthy := c.readCycle(client)
		if !healthy {
			connected = false
			c.metrics.SetConnected(c.cfg.DeviceID, false)
			if handler != nil {
				handler.Close()
				handler = nil
			}
		} else if record != nil {
			c.setLastError("")
			c.setLastReadTime(record.Timestamp)
			c.exportFanOut(*record)
		}

		c.waitPeriod(period)
	}

	if handler != nil {
		handler.Close()
	}
	c.setState(StateTerminated)
	c.running.Store(false)
}

// readCycle reads every configured register once, in declaration
// order. Any single read failure drops the whole cycle (the partial
// value map is discarded) and reports the connection unhealthy so the
// caller re-establishes it on the next iteration.
func (c *Collector) readCycle(client registerReader) (record *models.TelemetryRecord, healthy bool) {
	values := make(map[string]float64, len(c.cfg.Registers))

	for _, reg := range c.cfg.Registers {
		raw, err := readRegister(client, reg)
		if err != nil {
			c.logger.Printf("collector %s: read failed for register %d (%s): %v", c.cfg.DeviceID, reg.Address, reg.Name, err)
			c.setLastError(err.Error())
			c.metrics.RecordCycleFailed(c.cfg.DeviceID, "read-error")
			return nil, false
		}
		values[reg.Name] = reg.Apply(raw)
	}

	c.metrics.RecordCycleCompleted(c.cfg.DeviceID)

	if len(values) == 0 {
		return nil, true
	}

	rec := models.NewTelemetryRecord(c.cfg.DeviceID, values)
	return &rec, true
}

func readRegister(client registerReader, reg models.Register) (uint16, error) {
	addr := reg.Address - 1
	switch reg.Kind {
	case models.KindHolding:
		b, err := client.ReadHoldingRegisters(addr, 1)
		if err != nil {
			return 0, err
		}
		return binary.BigEndian.Uint16(b), nil
	case models.KindInput:
		b, err := client.ReadInputRegisters(addr, 1)
		if err != nil {
			return 0, err
		}
		return binary.BigEndian.Uint16(b), nil
	case models.KindCoil:
		b, err := client.ReadCoils(addr, 1)
		if err != nil {
			return 0, err
		}
		return uint16(b[0] & 0x01), nil
	case models.KindDiscrete:
		b, err := client.ReadDiscreteInputs(addr, 1)
		if err != nil {
			return 0, err
		}
		return uint16(b[0] & 0x01), nil
	default:
		return 0, fmt.Errorf("unsupported register kind %q", reg.Kind)
	}
}

// exportFanOut delivers record to every connected exporter. A
// misbehaving exporter — whether it returns an error or panics — is
// logged and skipped; it must never stall the cycle or the other
// exporters.
func (c *Collector) exportFanOut(record models.TelemetryRecord) {
	for _, exp := range c.exporters {
		c.exportOne(exp, record)
	}
}

func (c *Collector) exportOne(exp exporters.Exporter, record models.TelemetryRecord) {
	name := fmt.Sprintf("%T", exp)
	defer func() {
		if r := recover(); r != nil {
			c.logger.Printf("collector %s: exporter %s panicked: %v", c.cfg.DeviceID, name, r)
			c.metrics.RecordExporterError(c.cfg.DeviceID, name)
		}
	}()

	if !exp.IsConnected() {
		return
	}
	if err := exp.Export(record); err != nil {
		c.logger.Printf("collector %s: exporter %s failed: %v", c.cfg.DeviceID, name, err)
		c.metrics.RecordExporterError(c.cfg.DeviceID, name)
		return
	}
	c.metrics.RecordRecordExported(c.cfg.DeviceID, name)
}
