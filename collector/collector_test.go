package collector

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/kdvlr/modbustt/exporters"
	"github.com/kdvlr/modbustt/models"
)

// fakeTransport is a fully in-memory deviceHandler+registerReader used
// to drive the collector loop without a real Modbus link.
type fakeTransport struct {
	mu sync.Mutex

	connectErr error
	connected  bool
	closed     bool

	holding map[uint16]uint16
	failNext bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{holding: make(map[uint16]uint16)}
}

func (f *fakeTransport) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.connected = false
	return nil
}

func (f *fakeTransport) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return nil, errReadFault
	}
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, f.holding[address])
	return buf, nil
}

func (f *fakeTransport) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	return f.ReadHoldingRegisters(address, quantity)
}

func (f *fakeTransport) ReadCoils(address, quantity uint16) ([]byte, error) {
	return []byte{1}, nil
}

func (f *fakeTransport) ReadDiscreteInputs(address, quantity uint16) ([]byte, error) {
	return []byte{1}, nil
}

func (f *fakeTransport) setValue(addr uint16, v uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holding[addr] = v
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

const errReadFault = fakeErr("simulated read fault")

// fakeExporter records every record handed to it and can be made to
// fail or panic on demand.
type fakeExporter struct {
	mu        sync.Mutex
	records   []models.TelemetryRecord
	connected bool
	failNext  bool
	panicNext bool
}

func newFakeExporter() *fakeExporter { return &fakeExporter{connected: true} }

func (e *fakeExporter) Configure(map[string]interface{}) error { return nil }
func (e *fakeExporter) Connect() error                         { e.connected = true; return nil }
func (e *fakeExporter) Disconnect() error                      { e.connected = false; return nil }
func (e *fakeExporter) IsConnected() bool                       { return e.connected }

func (e *fakeExporter) Export(record models.TelemetryRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.panicNext {
		e.panicNext = false
		panic("fakeExporter: forced panic")
	}
	if e.failNext {
		e.failNext = false
		return fakeErr("simulated export failure")
	}
	e.records = append(e.records, record)
	return nil
}

func (e *fakeExporter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.records)
}

var _ exporters.Exporter = (*fakeExporter)(nil)

func testConfig(periodMS int) models.CollectorConfig {
	return models.CollectorConfig{
		DeviceID: "line-1",
		PeriodMS: periodMS,
		Registers: []models.Register{
			{Address: 1, Name: "temp", Kind: models.KindHolding, Scale: 1.0},
		},
		Enabled: true,
	}
}

// newTestCollector wires a Collector to fakeTransport via an injected
// transport factory so tests never touch goburrow/modbus.
func newTestCollector(t *testing.T, cfg models.CollectorConfig, transport *fakeTransport, exps []exporters.Exporter) *Collector {
	t.Helper()
	c := New(cfg, exps, nil, nil)
	c.transportFactory = func(models.CollectorConfig) (deviceHandler, registerReader, error) {
		return transport, transport, transport.connectErr
	}
	return c
}

func TestCollectorCadenceProducesRecords(t *testing.T) {
	tr := newFakeTransport()
	exp := newFakeExporter()
	c := newTestCollector(t, testConfig(20), tr, []exporters.Exporter{exp})

	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(120 * time.Millisecond)
	c.Stop()
	c.Join()

	if n := exp.count(); n < 3 {
		t.Errorf("expected several cycles exported, got %d", n)
	}
}

func TestCollectorDropsPartialCycleOnReadError(t *testing.T) {
	tr := newFakeTransport()
	exp := newFakeExporter()
	c := newTestCollector(t, testConfig(15), tr, []exporters.Exporter{exp})

	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	tr.mu.Lock()
	tr.failNext = true
	tr.mu.Unlock()
	time.Sleep(80 * time.Millisecond)
	c.Stop()
	c.Join()

	if exp.count() == 0 {
		t.Error("expected at least one successful cycle despite one induced fault")
	}
	if c.LastError() == "" {
		t.Error("expected LastError to be recorded after induced fault")
	}
}

func TestCollectorPauseResume(t *testing.T) {
	tr := newFakeTransport()
	exp := newFakeExporter()
	c := newTestCollector(t, testConfig(15), tr, []exporters.Exporter{exp})

	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	c.Pause()
	time.Sleep(20 * time.Millisecond)

	waitForState(t, c, StatePaused, 200*time.Millisecond)
	before := exp.count()
	time.Sleep(60 * time.Millisecond)
	if exp.count() != before {
		t.Errorf("expected no new records while paused: before=%d after=%d", before, exp.count())
	}

	c.Resume()
	time.Sleep(60 * time.Millisecond)
	if exp.count() <= before {
		t.Error("expected new records after resume")
	}

	c.Stop()
	c.Join()
}

func TestCollectorSetFrequency(t *testing.T) {
	tr := newFakeTransport()
	exp := newFakeExporter()
	c := newTestCollector(t, testConfig(200), tr, []exporters.Exporter{exp})

	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	c.SetFrequency(10)
	time.Sleep(150 * time.Millisecond)
	c.Stop()
	c.Join()

	if exp.count() < 5 {
		t.Errorf("expected frequency change to take effect quickly, got %d records", exp.count())
	}
}

func TestCollectorStopLatency(t *testing.T) {
	tr := newFakeTransport()
	exp := newFakeExporter()
	c := newTestCollector(t, testConfig(200), tr, []exporters.Exporter{exp})

	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	c.Stop()
	c.Join()
	elapsed := time.Since(start)

	if elapsed > 1500*time.Millisecond+200*time.Millisecond {
		t.Errorf("stop took too long: %v", elapsed)
	}
	if c.IsRunning() {
		t.Error("expected collector to report not running after Join")
	}
	if !tr.closed {
		t.Error("expected transport to be closed on stop")
	}
}

func TestCollectorExporterFaultIsolation(t *testing.T) {
	tr := newFakeTransport()
	bad := newFakeExporter()
	bad.panicNext = true
	good := newFakeExporter()
	c := newTestCollector(t, testConfig(15), tr, []exporters.Exporter{bad, good})

	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(80 * time.Millisecond)
	c.Stop()
	c.Join()

	if good.count() == 0 {
		t.Error("expected the healthy exporter to keep receiving records despite the other's panic")
	}
}

func waitForState(t *testing.T, c *Collector, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, last seen %s", want, c.State())
}
