package models

import (
	"testing"
	"time"
)

func TestLegacyRoundTrip(t *testing.T) {
	rec := TelemetryRecord{
		DeviceID:  "line-1",
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
		Values:    map[string]float64{"temp": 21.5, "rpm": 1200},
	}

	data, err := rec.MarshalLegacyJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := UnmarshalLegacyJSON(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.DeviceID != rec.DeviceID {
		t.Errorf("device id: got %q want %q", got.DeviceID, rec.DeviceID)
	}
	if !got.Timestamp.Equal(rec.Timestamp) {
		t.Errorf("timestamp: got %v want %v", got.Timestamp, rec.Timestamp)
	}
	for k, v := range rec.Values {
		if got.Values[k] != v {
			t.Errorf("value %s: got %v want %v", k, got.Values[k], v)
		}
	}
}

func TestPrimaryRoundTripSecondPrecision(t *testing.T) {
	rec := TelemetryRecord{
		DeviceID:  "line-2",
		Timestamp: time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC),
		Values:    map[string]float64{"voltage": 230.0},
	}

	data, err := rec.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got TelemetryRecord
	if err := got.UnmarshalJSON(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.DeviceID != rec.DeviceID {
		t.Errorf("device id: got %q want %q", got.DeviceID, rec.DeviceID)
	}
	if !got.Timestamp.Equal(rec.Timestamp) {
		t.Errorf("timestamp: got %v want %v", got.Timestamp, rec.Timestamp)
	}
}

func TestRegisterApply(t *testing.T) {
	reg := Register{Name: "temp", Kind: KindHolding, Scale: 0.1, Offset: 2.0}
	if got := reg.Apply(5); got != 2.5 {
		t.Errorf("apply: got %v want 2.5", got)
	}
}

func TestRegisterWithDefaults(t *testing.T) {
	reg := Register{Name: "x", Kind: KindCoil}.WithDefaults()
	if reg.Scale != 1.0 {
		t.Errorf("default scale: got %v want 1.0", reg.Scale)
	}
}
