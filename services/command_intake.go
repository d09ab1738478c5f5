package services

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// command is the wire shape of every message on the command topic:
// a discriminator plus whichever parameters that command expects.
type command struct {
	Command   string   `json:"command"`
	LineIDs   []string `json:"line_ids"`
	LineID    string   `json:"line_id"`
	CadenceMS int      `json:"cadence_ms"`
}

// CommandIntake subscribes to a single MQTT topic and turns each
// incoming message into a Supervisor call. Parse errors and unknown
// commands are logged and otherwise ignored; a bad message never stops
// the intake loop.
type CommandIntake struct {
	client     mqtt.Client
	topic      string
	supervisor *Supervisor
	logger     *log.Logger
}

// CommandIntakeConfig names the broker connection the intake dials.
type CommandIntakeConfig struct {
	Broker   string
	Port     int
	ClientID string
	Username string
	Password string
	Topic    string
}

// NewCommandIntake connects to cfg's broker and subscribes to
// cfg.Topic, dispatching every parsed command to supervisor. The
// returned CommandIntake is already subscribed; call Stop to tear it
// down.
func NewCommandIntake(cfg CommandIntakeConfig, supervisor *Supervisor, logger *log.Logger) (*CommandIntake, error) {
	if logger == nil {
		logger = log.Default()
	}

	ci := &CommandIntake{
		topic:      cfg.Topic,
		supervisor: supervisor,
		logger:     logger,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("modbustt-intake-%d", time.Now().UnixNano()))
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(ci.onConnectionLost)
	opts.SetOnConnectHandler(ci.onConnect)

	ci.client = mqtt.NewClient(opts)
	if token := ci.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("command intake: connect: %w", token.Error())
	}

	return ci, nil
}

func (ci *CommandIntake) onConnect(client mqtt.Client) {
	if token := client.Subscribe(ci.topic, 1, ci.handle); token.Wait() && token.Error() != nil {
		ci.logger.Printf("command intake: subscribe to %s failed: %v", ci.topic, token.Error())
		return
	}
	ci.logger.Printf("command intake: subscribed to %s", ci.topic)
}

func (ci *CommandIntake) onConnectionLost(client mqtt.Client, err error) {
	ci.logger.Printf("command intake: connection lost: %v", err)
}

// Stop disconnects from the broker.
func (ci *CommandIntake) Stop() {
	if ci.client != nil && ci.client.IsConnected() {
		ci.client.Disconnect(250)
	}
}

func (ci *CommandIntake) handle(client mqtt.Client, msg mqtt.Message) {
	var cmd command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		ci.logger.Printf("command intake: malformed message on %s: %v", msg.Topic(), err)
		return
	}

	switch cmd.Command {
	case "pause_line":
		ci.supervisor.PauseLines(cmd.LineIDs)
	case "resume_line":
		ci.supervisor.ResumeLines(cmd.LineIDs)
	case "stop_line":
		ci.supervisor.StopLines(cmd.LineIDs)
	case "restart_line":
		ci.supervisor.RestartLines(cmd.LineIDs)
	case "set_cadence":
		ci.supervisor.SetCadence(cmd.LineID, cmd.CadenceMS)
	default:
		ci.logger.Printf("command intake: unrecognised command %q", cmd.Command)
	}
}
