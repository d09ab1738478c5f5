package exporters

import (
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/kdvlr/modbustt/models"
)

// TCPExporter streams each record as JSON followed by '\n' over a
// plain IPv4 TCP connection. A write error closes the socket and
// marks the exporter disconnected; it does not auto-reconnect.
type TCPExporter struct {
	mu   sync.Mutex
	host string
	port int
	conn net.Conn
}

func NewTCPExporter() *TCPExporter {
	return &TCPExporter{host: "127.0.0.1", port: 5170}
}

func (e *TCPExporter) Configure(cfg map[string]interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := cfg["host"].(string); ok && v != "" {
		e.host = v
	}
	if v, ok := cfg["port"]; ok {
		switch n := v.(type) {
		case int:
			e.port = n
		case float64:
			e.port = int(n)
		}
	}
	return nil
}

func (e *TCPExporter) Connect() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil {
		return nil
	}
	addr := fmt.Sprintf("%s:%d", e.host, e.port)
	conn, err := net.DialTimeout("tcp4", addr, 5*time.Second)
	if err != nil {
		log.Printf("TCPExporter: connect to %s failed: %v", addr, err)
		return err
	}
	e.conn = conn
	log.Printf("TCPExporter: connected to %s", addr)
	return nil
}

func (e *TCPExporter) Disconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return nil
	}
	err := e.conn.Close()
	e.conn = nil
	return err
}

func (e *TCPExporter) Export(record models.TelemetryRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return nil
	}
	body, err := record.MarshalJSON()
	if err != nil {
		log.Printf("TCPExporter: failed to serialise record for %s: %v", record.DeviceID, err)
		return nil
	}
	if _, err := e.conn.Write(append(body, '\n')); err != nil {
		log.Printf("TCPExporter: write failed, closing socket: %v", err)
		e.conn.Close()
		e.conn = nil
		return nil
	}
	return nil
}

func (e *TCPExporter) IsConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn != nil
}
