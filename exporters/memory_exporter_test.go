package exporters

import (
	"testing"

	"github.com/kdvlr/modbustt/models"
)

func TestMemoryExporterDropsOldest(t *testing.T) {
	e := NewMemoryExporter()
	if err := e.Configure(map[string]interface{}{"max_size": 3}); err != nil {
		t.Fatalf("configure: %v", err)
	}

	for i := 0; i < 5; i++ {
		rec := models.NewTelemetryRecord("d1", map[string]float64{"i": float64(i)})
		if err := e.Export(rec); err != nil {
			t.Fatalf("export %d: %v", i, err)
		}
	}

	if got := e.Size(); got != 3 {
		t.Fatalf("size: got %d want 3", got)
	}

	flushed := e.Flush()
	if len(flushed) != 3 {
		t.Fatalf("flush len: got %d want 3", len(flushed))
	}
	for i, rec := range flushed {
		want := float64(i + 2) // records 2,3,4 survive
		if rec.Values["i"] != want {
			t.Errorf("flushed[%d]: got %v want %v", i, rec.Values["i"], want)
		}
	}
	if e.Size() != 0 {
		t.Errorf("size after flush: got %d want 0", e.Size())
	}
}

func TestMemoryExporterAlwaysConnected(t *testing.T) {
	e := NewMemoryExporter()
	if !e.IsConnected() {
		t.Error("memory exporter should always report connected")
	}
	if err := e.Connect(); err != nil {
		t.Errorf("connect: %v", err)
	}
}
