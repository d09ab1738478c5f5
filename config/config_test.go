package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kdvlr/modbustt/models"
)

const sampleYAML = `
mqtt:
  broker: "10.0.0.5"
  client_id: "supervisor-1"
production_lines:
  - id: "L1"
    ip: "10.0.0.10"
    registers:
      - address: 1
        name: "temp"
        type: "holding"
        scale: 0.1
  - id: "L2"
    ip: "10.0.0.11"
    enabled: false
    acquisition_frequency_ms: 500
    registers:
      - address: 3
        name: "flow"
        type: "input"
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "supervision.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	src := NewSource(path)

	cfg, err := src.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.MQTT.Port != 1883 {
		t.Errorf("mqtt.port default: got %d want 1883", cfg.MQTT.Port)
	}
	if cfg.MQTT.PublishTopic != "supervision/data" {
		t.Errorf("publish_topic default: got %q", cfg.MQTT.PublishTopic)
	}
	if cfg.MQTT.CommandTopic != "supervision/commands" {
		t.Errorf("command_topic default: got %q", cfg.MQTT.CommandTopic)
	}
	if len(cfg.ProductionLines) != 2 {
		t.Fatalf("expected 2 production lines, got %d", len(cfg.ProductionLines))
	}

	l1 := cfg.ProductionLines[0]
	if l1.Port != 502 {
		t.Errorf("l1 port default: got %d want 502", l1.Port)
	}
	if l1.UnitID != 1 {
		t.Errorf("l1 unit_id default: got %d want 1", l1.UnitID)
	}
	if l1.AcquisitionFrequencyMS != 200 {
		t.Errorf("l1 acquisition_frequency_ms default: got %d want 200", l1.AcquisitionFrequencyMS)
	}
	if l1.Enabled == nil || !*l1.Enabled {
		t.Error("l1 should default to enabled")
	}

	l2 := cfg.ProductionLines[1]
	if l2.Enabled == nil || *l2.Enabled {
		t.Error("l2 explicitly disabled, should not default to enabled")
	}
	if l2.AcquisitionFrequencyMS != 500 {
		t.Errorf("l2 acquisition_frequency_ms: got %d want 500", l2.AcquisitionFrequencyMS)
	}
}

func TestToCollectorConfigsTranslatesRegisters(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	src := NewSource(path)
	cfg, err := src.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	ccs, err := cfg.ToCollectorConfigs()
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if len(ccs) != 2 {
		t.Fatalf("expected 2 collector configs, got %d", len(ccs))
	}

	l1 := ccs[0]
	if l1.DeviceID != "L1" || l1.Transport != models.TransportTCP || l1.TCP.Host != "10.0.0.10" {
		t.Errorf("unexpected l1 translation: %+v", l1)
	}
	if len(l1.Registers) != 1 || l1.Registers[0].Name != "temp" || l1.Registers[0].Scale != 0.1 {
		t.Errorf("unexpected l1 registers: %+v", l1.Registers)
	}

	l2 := ccs[1]
	if l2.Enabled {
		t.Error("l2 should be disabled after translation")
	}
	if len(l2.Registers) != 1 || l2.Registers[0].Scale != 1.0 {
		t.Errorf("l2 register scale should default to 1.0: %+v", l2.Registers)
	}
}

const duplicateRegisterYAML = `
production_lines:
  - id: "L1"
    ip: "10.0.0.10"
    registers:
      - address: 1
        name: "temp"
        type: "holding"
      - address: 2
        name: "temp"
        type: "holding"
`

func TestToCollectorConfigsRejectsDuplicateRegisterNames(t *testing.T) {
	path := writeConfig(t, duplicateRegisterYAML)
	src := NewSource(path)
	cfg, err := src.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if _, err := cfg.ToCollectorConfigs(); err == nil {
		t.Fatal("expected error for duplicate register name, got nil")
	}
}

func TestHasChangedTracksMtime(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	src := NewSource(path)
	if _, err := src.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	if src.HasChanged() {
		t.Error("should report unchanged immediately after load")
	}

	time.Sleep(10 * time.Millisecond)
	if err := os.WriteFile(path, []byte(sampleYAML+"\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	if !src.HasChanged() {
		t.Error("expected change to be detected after mtime update")
	}
}
