package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/embedded-vault/internal/lifecycle"
)

// LifecycleMeasurement is the measurement lifecycle events are written to.
const LifecycleMeasurement = "vault_lifecycle"

var _ lifecycle.Sink = (*Client)(nil)

// Emit implements lifecycle.Sink by calling RecordLifecycle.
func (c *Client) Emit(e lifecycle.Event) {
	c.RecordLifecycle(e)
}

// RecordLifecycle writes one vault_lifecycle point for e.
//
// Tags: kind, server_id and, when known, version.
// Fields: count (always 1), pid, duration_ms, failed and error.
func (c *Client) RecordLifecycle(e lifecycle.Event) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(lifecyclePoint(e))
}

// WritePoint writes a point with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a point with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}

func lifecyclePoint(e lifecycle.Event) *write.Point {
	tags := map[string]string{
		"kind":      string(e.Kind),
		"server_id": e.ServerID,
	}
	if e.Version != "" {
		tags["version"] = e.Version
	}

	fields := map[string]any{
		"count":  int64(1),
		"failed": e.Error != "",
	}
	if e.PID > 0 {
		fields["pid"] = int64(e.PID)
	}
	if e.Duration > 0 {
		fields["duration_ms"] = float64(e.Duration) / float64(time.Millisecond)
	}
	if e.Error != "" {
		fields["error"] = e.Error
	}

	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}
	return write.NewPoint(LifecycleMeasurement, tags, fields, at)
}
