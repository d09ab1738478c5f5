//go:build !windows

package exporters

import (
	"fmt"
	"log"
	"log/syslog"
	"sort"
	"strings"
	"sync"

	"github.com/kdvlr/modbustt/models"
)

// SyslogExporter writes one "collector=<id> name=value ..." line per
// record to the process-wide syslog channel at info priority, under
// facility user-level, including the pid. No third-party syslog
// client exists anywhere in the example corpus, so this is a
// deliberate standard-library choice (see DESIGN.md).
type SyslogExporter struct {
	mu     sync.Mutex
	ident  string
	writer *syslog.Writer
}

func NewSyslogExporter() *SyslogExporter {
	return &SyslogExporter{ident: "modbustt"}
}

func (e *SyslogExporter) Configure(cfg map[string]interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := cfg["ident"].(string); ok && v != "" {
		e.ident = v
	}
	return nil
}

func (e *SyslogExporter) Connect() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.writer != nil {
		return nil
	}
	w, err := syslog.New(syslog.LOG_INFO|syslog.LOG_USER, e.ident)
	if err != nil {
		return fmt.Errorf("syslog dial: %v", err)
	}
	e.writer = w
	return nil
}

func (e *SyslogExporter) Disconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.writer == nil {
		return nil
	}
	err := e.writer.Close()
	e.writer = nil
	return err
}

func (e *SyslogExporter) Export(record models.TelemetryRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.writer == nil {
		return nil
	}

	names := make([]string, 0, len(record.Values))
	for name := range record.Values {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "collector=%s", record.DeviceID)
	for _, name := range names {
		fmt.Fprintf(&b, " %s=%v", name, record.Values[name])
	}

	if err := e.writer.Info(b.String()); err != nil {
		log.Printf("SyslogExporter: write failed, closing channel: %v", err)
		e.writer.Close()
		e.writer = nil
	}
	return nil
}

func (e *SyslogExporter) IsConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writer != nil
}
