package exporters

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/kdvlr/modbustt/models"
)

func TestFileExporterAppendsJSONLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.jsonl")

	e := NewFileExporter()
	if err := e.Configure(map[string]interface{}{"filepath": path}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := e.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer e.Disconnect()

	if !e.IsConnected() {
		t.Fatal("expected connected after Connect")
	}

	for i := 0; i < 3; i++ {
		rec := models.NewTelemetryRecord("d1", map[string]float64{"x": float64(i)})
		if err := e.Export(rec); err != nil {
			t.Fatalf("export: %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lines := 0
	for scanner.Scan() {
		lines++
	}
	if lines != 3 {
		t.Errorf("lines: got %d want 3", lines)
	}
}

func TestFileExporterConnectIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.jsonl")

	e := NewFileExporter()
	e.Configure(map[string]interface{}{"filepath": path})
	if err := e.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := e.Connect(); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	e.Disconnect()
	if e.IsConnected() {
		t.Error("expected disconnected")
	}
	if err := e.Disconnect(); err != nil {
		t.Errorf("second disconnect: %v", err)
	}
}
