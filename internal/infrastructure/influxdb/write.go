package influxdb

import (
	"context"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gpu-persistd/internal/device"
)

// WriteTransition writes a single state transition measurement.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - address: Device PCI address (e.g., "0000:65:00.0")
//   - kind: Transition kind ("mode" or "numa")
//   - from, to: State names on either side of the transition
//   - success: Whether the transition completed
//   - at: When the attempt finished
func (c *Client) WriteTransition(address, kind, from, to string, success bool, at time.Time) {
	if !c.IsConnected() {
		return
	}

	successValue := 0
	if success {
		successValue = 1
	}

	point := write.NewPoint(
		"transitions",
		map[string]string{
			"device": address,
			"kind":   kind,
			"to":     to,
		},
		map[string]interface{}{
			"from":    from,
			"success": successValue,
		},
		at,
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// RecordTransition implements device.TransitionRecorder, letting the
// client be registered directly with the device manager.
func (c *Client) RecordTransition(_ context.Context, tr device.Transition) {
	c.WriteTransition(tr.Address, tr.Kind, tr.From, tr.To, tr.Success, tr.At)
}
