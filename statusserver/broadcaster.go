package statusserver

import (
	"sync"

	"github.com/kdvlr/modbustt/exporters"
	"github.com/kdvlr/modbustt/models"
)

// RecordBroadcaster fans every emitted TelemetryRecord out to whatever
// websocket clients are subscribed on /ws/status. It satisfies
// exporters.Exporter so the Supervisor attaches it to every
// collector's shared exporter set exactly like the file, MQTT or AMQP
// sinks — a live status feed is just another push exporter aimed at
// humans instead of sinks. A slow or absent subscriber never blocks a
// collector: a full subscriber buffer drops the record instead of
// waiting.
type RecordBroadcaster struct {
	mu        sync.Mutex
	connected bool
	clients   map[chan models.TelemetryRecord]struct{}
}

var _ exporters.Exporter = (*RecordBroadcaster)(nil)

// NewRecordBroadcaster returns a broadcaster with no subscribers yet.
func NewRecordBroadcaster() *RecordBroadcaster {
	return &RecordBroadcaster{clients: make(map[chan models.TelemetryRecord]struct{})}
}

// Configure is a no-op; the broadcaster takes no configuration.
func (b *RecordBroadcaster) Configure(map[string]interface{}) error { return nil }

// Connect marks the broadcaster connected, so collectors deliver
// records to it. Subscribe works whether or not it is connected.
func (b *RecordBroadcaster) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	return nil
}

// Disconnect closes every subscriber channel and stops accepting records.
func (b *RecordBroadcaster) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		close(ch)
		delete(b.clients, ch)
	}
	b.connected = false
	return nil
}

// IsConnected reports whether the broadcaster is accepting records.
func (b *RecordBroadcaster) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Export delivers record to every current subscriber.
func (b *RecordBroadcaster) Export(record models.TelemetryRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- record:
		default:
			// subscriber is behind; drop rather than block the collector.
		}
	}
	return nil
}

// Subscribe registers a new listener, returning its channel and a
// cancel func the caller must invoke when it stops reading.
func (b *RecordBroadcaster) Subscribe() (<-chan models.TelemetryRecord, func()) {
	ch := make(chan models.TelemetryRecord, 16)

	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.clients[ch]; ok {
			delete(b.clients, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}
