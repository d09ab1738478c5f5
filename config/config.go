// Package config loads the supervision YAML configuration file with
// Viper and translates it into the typed snapshots the rest of the
// application builds on: broker settings, per-device collector
// configuration, and the optional metrics/status-server/logging keys.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/kdvlr/modbustt/models"
)

// RegisterSpec is the YAML shape of one register entry under a
// production line.
type RegisterSpec struct {
	Address int     `mapstructure:"address"`
	Name    string  `mapstructure:"name"`
	Type    string  `mapstructure:"type"`
	Scale   float64 `mapstructure:"scale"`
	Offset  float64 `mapstructure:"offset"`
}

// SerialSpec configures an RTU production line; present only when
// Transport is "rtu".
type SerialSpec struct {
	Path     string `mapstructure:"path"`
	Baud     int    `mapstructure:"baud"`
	Parity   string `mapstructure:"parity"`
	DataBits int    `mapstructure:"data_bits"`
	StopBits int    `mapstructure:"stop_bits"`
}

// ProductionLineSpec is the YAML shape of one entry under
// production_lines.
type ProductionLineSpec struct {
	ID                     string         `mapstructure:"id"`
	IP                     string         `mapstructure:"ip"`
	Port                   int            `mapstructure:"port"`
	UnitID                 int            `mapstructure:"unit_id"`
	AcquisitionFrequencyMS int            `mapstructure:"acquisition_frequency_ms"`
	Enabled                *bool          `mapstructure:"enabled"`
	Transport              string         `mapstructure:"transport"`
	Serial                 SerialSpec     `mapstructure:"serial"`
	Registers              []RegisterSpec `mapstructure:"registers"`
}

// MQTTSpec is the YAML shape of the top-level mqtt block: broker
// connection and the telemetry/command topic names.
type MQTTSpec struct {
	Broker             string `mapstructure:"broker"`
	Port               int    `mapstructure:"port"`
	ClientID           string `mapstructure:"client_id"`
	Username           string `mapstructure:"username"`
	Password           string `mapstructure:"password"`
	PublishTopic       string `mapstructure:"publish_topic"`
	CommandTopic       string `mapstructure:"command_topic"`
	PublishFrequencyMS int    `mapstructure:"publish_frequency_ms"`
	QoS                int    `mapstructure:"qos"`
}

// MetricsSpec configures the optional OpenTelemetry meter provider.
type MetricsSpec struct {
	Enabled       bool   `mapstructure:"enabled"`
	Exporter      string `mapstructure:"exporter"`
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`
}

// StatusServerSpec configures the optional diagnostics HTTP surface.
type StatusServerSpec struct {
	Enabled           bool   `mapstructure:"enabled"`
	Address           string `mapstructure:"address"`
	AuthEnabled       bool   `mapstructure:"auth_enabled"`
	OperatorPassword  string `mapstructure:"operator_password"`
	JWTSecret         string `mapstructure:"jwt_secret"`
}

// Config is the fully parsed, defaulted configuration snapshot.
type Config struct {
	MQTT           MQTTSpec             `mapstructure:"mqtt"`
	ProductionLines []ProductionLineSpec `mapstructure:"production_lines"`
	Metrics        MetricsSpec          `mapstructure:"metrics"`
	StatusServer   StatusServerSpec     `mapstructure:"status_server"`
	LogLevel       string               `mapstructure:"log_level"`
}

// Source loads a Config from a YAML file and tracks its modification
// time so the caller can detect out-of-band edits with HasChanged.
type Source struct {
	path        string
	v           *viper.Viper
	lastModTime time.Time
	current     *Config
}

// NewSource builds a Source bound to path without loading it yet.
func NewSource(path string) *Source {
	return &Source{path: path}
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.publish_topic", "supervision/data")
	v.SetDefault("mqtt.command_topic", "supervision/commands")
	v.SetDefault("mqtt.publish_frequency_ms", 800)
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.exporter", "none")
	v.SetDefault("status_server.enabled", false)
	v.SetDefault("status_server.address", "127.0.0.1:8090")
	v.SetDefault("status_server.auth_enabled", false)
	v.SetDefault("log_level", "info")
	return v
}

// Load reads the configuration file for the first time.
func (s *Source) Load() (*Config, error) {
	s.v = newViper(s.path)
	if err := s.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", s.path, err)
	}

	var cfg Config
	if err := s.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", s.path, err)
	}
	applyLineDefaults(&cfg)

	if fi, err := os.Stat(s.path); err == nil {
		s.lastModTime = fi.ModTime()
	}
	s.current = &cfg
	return &cfg, nil
}

// HasChanged reports whether the file's mtime has moved since the
// last successful Load/Reload.
func (s *Source) HasChanged() bool {
	fi, err := os.Stat(s.path)
	if err != nil {
		return false
	}
	return fi.ModTime().After(s.lastModTime)
}

// Reload re-reads the configuration file. It does not reconcile any
// already-running collectors; callers that want running collectors to
// pick up new settings must issue explicit restart_line commands.
func (s *Source) Reload() (*Config, error) {
	return s.Load()
}

// Current returns the most recently loaded snapshot, or nil if Load
// has not yet succeeded.
func (s *Source) Current() *Config {
	return s.current
}

func applyLineDefaults(cfg *Config) {
	for i := range cfg.ProductionLines {
		line := &cfg.ProductionLines[i]
		if line.Port == 0 {
			line.Port = 502
		}
		if line.UnitID == 0 {
			line.UnitID = 1
		}
		if line.AcquisitionFrequencyMS == 0 {
			line.AcquisitionFrequencyMS = 200
		}
		if line.Transport == "" {
			line.Transport = string(models.TransportTCP)
		}
		if line.Enabled == nil {
			enabled := true
			line.Enabled = &enabled
		}
		for j := range line.Registers {
			if line.Registers[j].Scale == 0 {
				line.Registers[j].Scale = 1.0
			}
		}
	}
}

// ToCollectorConfigs translates every production line into the
// runtime CollectorConfig the collector/supervisor packages consume,
// rejecting any line whose registers fail CollectorConfig.Validate
// (duplicate register names) rather than letting it silently overwrite
// values at runtime.
func (cfg *Config) ToCollectorConfigs() ([]models.CollectorConfig, error) {
	out := make([]models.CollectorConfig, 0, len(cfg.ProductionLines))
	for _, line := range cfg.ProductionLines {
		cc := models.CollectorConfig{
			DeviceID: line.ID,
			PeriodMS: line.AcquisitionFrequencyMS,
			UnitID:   byte(line.UnitID),
			Enabled:  line.Enabled == nil || *line.Enabled,
		}

		switch models.TransportKind(line.Transport) {
		case models.TransportRTU:
			cc.Transport = models.TransportRTU
			cc.RTU = models.RTUTransport{
				SerialPath: line.Serial.Path,
				Baud:       line.Serial.Baud,
				Parity:     line.Serial.Parity,
				DataBits:   line.Serial.DataBits,
				StopBits:   line.Serial.StopBits,
			}
		default:
			cc.Transport = models.TransportTCP
			cc.TCP = models.TCPTransport{Host: line.IP, Port: line.Port}
		}

		for _, r := range line.Registers {
			reg := models.Register{
				Address: uint16(r.Address),
				Name:    r.Name,
				Kind:    models.RegisterKind(r.Type),
				Scale:   r.Scale,
				Offset:  r.Offset,
			}
			cc.Registers = append(cc.Registers, reg.WithDefaults())
		}

		if err := cc.Validate(); err != nil {
			return nil, fmt.Errorf("config: production line %s: %w", cc.DeviceID, err)
		}

		out = append(out, cc)
	}
	return out, nil
}
