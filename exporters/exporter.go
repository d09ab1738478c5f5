// Package exporters implements the pluggable telemetry sinks a
// Collector fans records out to: file, in-memory ring, MQTT broker,
// TCP stream, syslog and an AMQP pub/sub endpoint. All of them satisfy
// the Exporter contract and are safe for concurrent use by multiple
// collectors sharing the same instance.
package exporters

import "github.com/kdvlr/modbustt/models"

// Exporter is a stateful telemetry sink. Configure is called once
// before Connect and must not perform I/O. Connect/Disconnect are
// idempotent. Export must not block the caller on a remote
// acknowledgement for longer than a bounded local-buffer write;
// transient failures are swallowed and surfaced only through
// IsConnected flipping false. All methods may be called concurrently
// from multiple goroutines; implementations serialise their own state.
type Exporter interface {
	Configure(cfg map[string]interface{}) error
	Connect() error
	Disconnect() error
	Export(record models.TelemetryRecord) error
	IsConnected() bool
}
