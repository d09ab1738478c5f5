package exporters

import (
	"sync"

	"github.com/kdvlr/modbustt/models"
)

// MemoryExporter is a bounded in-memory FIFO of records. Overflow
// drops the oldest entry. It is always connected (no external
// resource to lose). Flush returns and clears the buffer and Size
// reports its length; they are the only consumer-facing API beyond the
// Exporter contract.
type MemoryExporter struct {
	mu      sync.Mutex
	maxSize int
	buffer  []models.TelemetryRecord
}

const defaultMemoryExporterCapacity = 1000

func NewMemoryExporter() *MemoryExporter {
	return &MemoryExporter{maxSize: defaultMemoryExporterCapacity}
}

func (e *MemoryExporter) Configure(cfg map[string]interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := cfg["max_size"]; ok {
		switch n := v.(type) {
		case int:
			e.maxSize = n
		case float64:
			e.maxSize = int(n)
		}
	}
	if e.maxSize <= 0 {
		e.maxSize = defaultMemoryExporterCapacity
	}
	return nil
}

func (e *MemoryExporter) Connect() error    { return nil }
func (e *MemoryExporter) Disconnect() error { return nil }
func (e *MemoryExporter) IsConnected() bool { return true }

func (e *MemoryExporter) Export(record models.TelemetryRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.buffer) >= e.maxSize {
		e.buffer = e.buffer[1:]
	}
	e.buffer = append(e.buffer, record)
	return nil
}

// Flush returns all buffered records and empties the buffer.
func (e *MemoryExporter) Flush() []models.TelemetryRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	flushed := e.buffer
	e.buffer = nil
	return flushed
}

// Size reports the current number of buffered records.
func (e *MemoryExporter) Size() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buffer)
}
