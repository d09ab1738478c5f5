package models

import (
	"encoding/json"
	"time"
)

// TelemetryRecord is an immutable snapshot produced by one successful
// read cycle of a Collector: the device id, the wall-clock instant the
// cycle finished, and the name->value map for every register that was
// read successfully in that cycle.
type TelemetryRecord struct {
	DeviceID  string
	Timestamp time.Time
	Values    map[string]float64
}

// NewTelemetryRecord captures time.Now() as the record's timestamp.
func NewTelemetryRecord(deviceID string, values map[string]float64) TelemetryRecord {
	return TelemetryRecord{
		DeviceID:  deviceID,
		Timestamp: time.Now(),
		Values:    values,
	}
}

// wireRecord is the primary on-the-wire JSON shape: second-precision
// ISO-8601 UTC timestamp, used by the file sink and the TCP stream
// exporter.
type wireRecord struct {
	CollectorID string             `json:"collector_id"`
	Timestamp   string             `json:"timestamp"`
	Values      map[string]float64 `json:"values"`
}

// legacyRecord is the broker-publisher wire shape: millisecond epoch
// timestamp, "line_id"/"data" field names. Both shapes are
// compatibility-critical and must not be renamed independently of a
// protocol version bump.
type legacyRecord struct {
	LineID    string             `json:"line_id"`
	Timestamp int64              `json:"timestamp"`
	Data      map[string]float64 `json:"data"`
}

// MarshalJSON produces the primary schema:
// {"collector_id": "...", "timestamp": "2024-01-02T15:04:05Z", "values": {...}}
func (r TelemetryRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireRecord{
		CollectorID: r.DeviceID,
		Timestamp:   r.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
		Values:      r.Values,
	})
}

// UnmarshalJSON decodes the primary schema produced by MarshalJSON.
func (r *TelemetryRecord) UnmarshalJSON(data []byte) error {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ts, err := time.Parse("2006-01-02T15:04:05Z", w.Timestamp)
	if err != nil {
		return err
	}
	r.DeviceID = w.CollectorID
	r.Timestamp = ts
	r.Values = w.Values
	return nil
}

// MarshalLegacyJSON produces the broker-publisher schema:
// {"line_id": "...", "timestamp": 1700000000000, "data": {...}}
func (r TelemetryRecord) MarshalLegacyJSON() ([]byte, error) {
	return json.Marshal(legacyRecord{
		LineID:    r.DeviceID,
		Timestamp: r.Timestamp.UnixMilli(),
		Data:      r.Values,
	})
}

// UnmarshalLegacyJSON decodes the broker-publisher schema. Timestamp
// precision is milliseconds, matching MarshalLegacyJSON.
func UnmarshalLegacyJSON(data []byte) (TelemetryRecord, error) {
	var l legacyRecord
	if err := json.Unmarshal(data, &l); err != nil {
		return TelemetryRecord{}, err
	}
	return TelemetryRecord{
		DeviceID:  l.LineID,
		Timestamp: time.UnixMilli(l.Timestamp).UTC(),
		Values:    l.Data,
	}, nil
}
