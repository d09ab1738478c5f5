package exporters

import (
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kdvlr/modbustt/models"
)

// MQTTExporter publishes each record as a JSON body to a broker topic.
// It establishes a session with a 20s keep-alive and clean-session
// true. Connection loss marks IsConnected false; this exporter does
// not auto-reconnect itself — the operator or supervisor must
// re-create it.
type MQTTExporter struct {
	mu       sync.Mutex
	broker   string
	clientID string
	topic    string
	qos      byte
	username string
	password string

	client    mqtt.Client
	connected bool
}

func NewMQTTExporter() *MQTTExporter {
	return &MQTTExporter{
		broker:   "tcp://localhost:1883",
		clientID: fmt.Sprintf("modbustt-exporter-%d", time.Now().UnixNano()),
		topic:    "modbustt/data",
		qos:      1,
	}
}

func (e *MQTTExporter) Configure(cfg map[string]interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := cfg["broker"].(string); ok && v != "" {
		e.broker = v
	}
	if v, ok := cfg["client_id"].(string); ok && v != "" {
		e.clientID = v
	}
	if v, ok := cfg["topic"].(string); ok && v != "" {
		e.topic = v
	}
	if v, ok := cfg["qos"]; ok {
		switch n := v.(type) {
		case int:
			e.qos = byte(n)
		case float64:
			e.qos = byte(n)
		}
	}
	if v, ok := cfg["username"].(string); ok {
		e.username = v
	}
	if v, ok := cfg["password"].(string); ok {
		e.password = v
	}
	return nil
}

func (e *MQTTExporter) Connect() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.connected {
		return nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(e.broker)
	opts.SetClientID(e.clientID)
	opts.SetCleanSession(true)
	opts.SetKeepAlive(20 * time.Second)
	opts.SetAutoReconnect(false)
	opts.SetConnectionLostHandler(func(mqtt.Client, error) {
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
	})
	if e.username != "" {
		opts.SetUsername(e.username)
		opts.SetPassword(e.password)
	}

	e.client = mqtt.NewClient(opts)
	if token := e.client.Connect(); token.Wait() && token.Error() != nil {
		log.Printf("MQTTExporter: connect to %s failed: %v", e.broker, token.Error())
		return token.Error()
	}

	e.connected = true
	log.Printf("MQTTExporter: connected to %s, publishing on %s", e.broker, e.topic)
	return nil
}

func (e *MQTTExporter) Disconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
	}
	e.connected = false
	return nil
}

func (e *MQTTExporter) Export(record models.TelemetryRecord) error {
	e.mu.Lock()
	client := e.client
	connected := e.connected
	topic := e.topic
	qos := e.qos
	e.mu.Unlock()

	if !connected || client == nil {
		return nil
	}

	body, err := record.MarshalLegacyJSON()
	if err != nil {
		log.Printf("MQTTExporter: failed to serialise record for %s: %v", record.DeviceID, err)
		return nil
	}

	// Fire-and-forget: the caller is the per-device read loop and must
	// never block on the broker's remote acknowledgement. The publish
	// token resolves asynchronously on its own goroutine; a failed ack
	// only marks the exporter disconnected for the next cycle, it never
	// stalls this one.
	token := client.Publish(topic, qos, false, body)
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Printf("MQTTExporter: publish failed: %v", token.Error())
			e.mu.Lock()
			e.connected = false
			e.mu.Unlock()
		}
	}()
	return nil
}

func (e *MQTTExporter) IsConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected && e.client != nil && e.client.IsConnected()
}
