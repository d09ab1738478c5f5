// Package services hosts the Supervisor and command intake that sit
// above the per-device collectors: the Supervisor owns the collector
// map and exporter set, and command intake turns inbound MQTT messages
// into Supervisor calls.
package services

import (
	"log"
	"sync"

	"github.com/kdvlr/modbustt/collector"
	"github.com/kdvlr/modbustt/exporters"
	"github.com/kdvlr/modbustt/models"
)

// Supervisor owns every running Collector, keyed by device id, and the
// shared set of exporters every collector fans its records out to. It
// is the sole mutator of the collector map; callers are expected to
// invoke it from a single goroutine (command intake), so the map
// itself needs no lock beyond what concurrent status reads require.
type Supervisor struct {
	logger    *log.Logger
	exporters []exporters.Exporter
	metrics   collector.MetricsRecorder

	mu         sync.RWMutex
	collectors map[string]*collector.Collector
	configs    map[string]models.CollectorConfig
}

// NewSupervisor builds a Supervisor sharing exps and a metrics
// recorder across every collector it creates. Either may be nil: a
// nil exporter slice means no telemetry egress, and a nil metrics
// recorder falls back to collector's own no-op implementation.
func NewSupervisor(exps []exporters.Exporter, metrics collector.MetricsRecorder, logger *log.Logger) *Supervisor {
	if logger == nil {
		logger = log.Default()
	}
	return &Supervisor{
		logger:     logger,
		exporters:  exps,
		metrics:    metrics,
		collectors: make(map[string]*collector.Collector),
		configs:    make(map[string]models.CollectorConfig),
	}
}

// Create builds and starts a collector for every enabled device in
// devices. Disabled devices are recorded (so a later restart_line can
// find their configuration) but not started.
func (s *Supervisor) Create(devices []models.CollectorConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cfg := range devices {
		s.configs[cfg.DeviceID] = cfg
		if !cfg.Enabled {
			s.logger.Printf("supervisor: device %s is disabled, not starting", cfg.DeviceID)
			continue
		}
		s.startLocked(cfg)
	}
}

// startLocked builds and starts a collector for cfg. Caller must hold s.mu.
func (s *Supervisor) startLocked(cfg models.CollectorConfig) {
	c := collector.New(cfg, s.exporters, s.logger, s.metrics)
	if err := c.Start(); err != nil {
		s.logger.Printf("supervisor: failed to start collector %s: %v", cfg.DeviceID, err)
		return
	}
	s.collectors[cfg.DeviceID] = c
}

// PauseLines sends Pause to each named collector. Unknown ids are
// logged and skipped.
func (s *Supervisor) PauseLines(ids []string) {
	s.forEach(ids, "pause", func(c *collector.Collector) { c.Pause() })
}

// ResumeLines sends Resume to each named collector.
func (s *Supervisor) ResumeLines(ids []string) {
	s.forEach(ids, "resume", func(c *collector.Collector) { c.Resume() })
}

// StopLines sends Stop to each named collector. The collectors
// continue running in the background; use Shutdown to join them all.
func (s *Supervisor) StopLines(ids []string) {
	s.forEach(ids, "stop", func(c *collector.Collector) { c.Stop() })
}

// SetCadence updates the acquisition period of a single collector.
func (s *Supervisor) SetCadence(id string, ms int) {
	s.forEach([]string{id}, "set_cadence", func(c *collector.Collector) { c.SetFrequency(ms) })
}

func (s *Supervisor) forEach(ids []string, op string, fn func(*collector.Collector)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range ids {
		c, ok := s.collectors[id]
		if !ok {
			s.logger.Printf("supervisor: %s: unknown device id %s", op, id)
			continue
		}
		fn(c)
	}
}

// RestartLines stops, joins and recreates the named collectors from
// their last known configuration. If a device id has no known
// configuration, it is logged and skipped.
func (s *Supervisor) RestartLines(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		cfg, ok := s.configs[id]
		if !ok {
			s.logger.Printf("supervisor: restart: unknown device id %s", id)
			continue
		}

		if existing, ok := s.collectors[id]; ok {
			existing.Stop()
			existing.Join()
			delete(s.collectors, id)
		}

		if !cfg.Enabled {
			s.logger.Printf("supervisor: restart: device %s is disabled, not restarting", id)
			continue
		}
		s.startLocked(cfg)
	}
}

// Shutdown stops and joins every collector, then disconnects every
// exporter. Safe to call once during process teardown.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	collectors := make([]*collector.Collector, 0, len(s.collectors))
	for id, c := range s.collectors {
		collectors = append(collectors, c)
		delete(s.collectors, id)
	}
	s.mu.Unlock()

	for _, c := range collectors {
		c.Stop()
	}
	for _, c := range collectors {
		c.Join()
	}
	for _, exp := range s.exporters {
		if err := exp.Disconnect(); err != nil {
			s.logger.Printf("supervisor: exporter disconnect error: %v", err)
		}
	}
}

// Status is a point-in-time snapshot of one collector's runtime state,
// used by the status/ops HTTP surface.
type Status struct {
	DeviceID     string `json:"device_id"`
	State        string `json:"state"`
	Running      bool   `json:"running"`
	LastError    string `json:"last_error,omitempty"`
	LastReadUnix int64  `json:"last_read_unix,omitempty"`
}

// Snapshot returns a Status for every known device, sorted by device
// id is not guaranteed; callers that need a stable order should sort.
func (s *Supervisor) Snapshot() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Status, 0, len(s.configs))
	for id := range s.configs {
		c, running := s.collectors[id]
		st := Status{DeviceID: id}
		if running {
			st.State = string(c.State())
			st.Running = c.IsRunning()
			st.LastError = c.LastError()
			if t := c.LastReadTime(); !t.IsZero() {
				st.LastReadUnix = t.Unix()
			}
		} else {
			st.State = string(collector.StateIdle)
		}
		out = append(out, st)
	}
	return out
}
