package exporters

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/kdvlr/modbustt/models"
)

// FileExporter appends each record as one JSON-Lines record to a local
// file opened in append mode.
type FileExporter struct {
	mu       sync.Mutex
	filepath string
	file     *os.File
}

// NewFileExporter returns a FileExporter writing to the default path
// modbustt_output.jsonl; Configure may override the path before Connect.
func NewFileExporter() *FileExporter {
	return &FileExporter{filepath: "modbustt_output.jsonl"}
}

func (e *FileExporter) Configure(cfg map[string]interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if fp, ok := cfg["filepath"].(string); ok && fp != "" {
		e.filepath = fp
	}
	return nil
}

func (e *FileExporter) Connect() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.file != nil {
		return nil
	}
	f, err := os.OpenFile(e.filepath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("FileExporter: could not open %s: %v", e.filepath, err)
		return fmt.Errorf("open %s: %v", e.filepath, err)
	}
	e.file = f
	log.Printf("FileExporter: log file opened at %s", e.filepath)
	return nil
}

func (e *FileExporter) Disconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.file == nil {
		return nil
	}
	err := e.file.Close()
	e.file = nil
	return err
}

func (e *FileExporter) Export(record models.TelemetryRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.file == nil {
		return nil
	}
	line, err := record.MarshalJSON()
	if err != nil {
		log.Printf("FileExporter: failed to serialise record for %s: %v", record.DeviceID, err)
		return nil
	}
	if _, err := e.file.Write(append(line, '\n')); err != nil {
		log.Printf("FileExporter: write failed: %v", err)
		e.file.Close()
		e.file = nil
		return nil
	}
	return nil
}

func (e *FileExporter) IsConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.file != nil
}
