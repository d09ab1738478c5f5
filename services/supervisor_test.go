package services

import (
	"testing"

	"github.com/kdvlr/modbustt/models"
)

func testDevice(id string, enabled bool) models.CollectorConfig {
	return models.CollectorConfig{
		DeviceID: id,
		Enabled:  enabled,
		PeriodMS: 50,
		Registers: []models.Register{
			{Address: 1, Name: "v", Kind: models.KindHolding, Scale: 1.0},
		},
	}
}

func TestSupervisorCreateStartsOnlyEnabledDevices(t *testing.T) {
	sup := NewSupervisor(nil, nil, nil)
	defer sup.Shutdown()

	sup.Create([]models.CollectorConfig{
		testDevice("a", true),
		testDevice("b", false),
	})

	snap := sup.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 known devices, got %d", len(snap))
	}

	var foundA, foundB bool
	for _, s := range snap {
		switch s.DeviceID {
		case "a":
			foundA = true
			if !s.Running {
				t.Error("device a should be running")
			}
		case "b":
			foundB = true
			if s.Running {
				t.Error("device b is disabled and should not be running")
			}
		}
	}
	if !foundA || !foundB {
		t.Fatal("expected both device ids in snapshot")
	}
}

func TestSupervisorUnknownIDIsIgnored(t *testing.T) {
	sup := NewSupervisor(nil, nil, nil)
	defer sup.Shutdown()

	sup.Create([]models.CollectorConfig{testDevice("a", true)})

	// None of these should panic; unknown ids are logged and skipped.
	sup.PauseLines([]string{"does-not-exist"})
	sup.ResumeLines([]string{"does-not-exist"})
	sup.StopLines([]string{"does-not-exist"})
	sup.SetCadence("does-not-exist", 100)
	sup.RestartLines([]string{"does-not-exist"})
}

func TestSupervisorShutdownStopsEverything(t *testing.T) {
	sup := NewSupervisor(nil, nil, nil)
	sup.Create([]models.CollectorConfig{testDevice("a", true), testDevice("b", true)})

	sup.Shutdown()

	snap := sup.Snapshot()
	for _, s := range snap {
		if s.Running {
			t.Errorf("device %s should not be running after shutdown", s.DeviceID)
		}
	}
}
