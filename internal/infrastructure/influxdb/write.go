package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteExecutionMetric records the outcome of a completed execution.
//
// This is the primary method for recording execution telemetry.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - deviceID: serial of the device the execution ran on
//   - presetID: identifier of the preset that was executed
//   - status: terminal status ("completed", "failed", "cancelled")
//   - durationMs: wall-clock duration of the execution in milliseconds
//   - actionsCompleted: number of top-level actions that ran
//
// Example:
//
//	client.WriteExecutionMetric("emulator-5554", "preset-daily-check", "completed", 12480, 9)
func (c *Client) WriteExecutionMetric(deviceID, presetID, status string, durationMs int64, actionsCompleted int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"executions",
		map[string]string{
			"device_id": deviceID,
			"preset_id": presetID,
			"status":    status,
		},
		map[string]interface{}{
			"duration_ms":       durationMs,
			"actions_completed": actionsCompleted,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteActionMetric records the timing of a single action within an execution.
//
// Used for spotting slow actions (element waits, app launches) across runs.
//
// Parameters:
//   - deviceID: identifier of the device the action ran on
//   - actionType: the action type (e.g. "click_element", "wait_for_element")
//   - durationMs: time the action took in milliseconds
//   - success: whether the action completed without error
func (c *Client) WriteActionMetric(deviceID, actionType string, durationMs int64, success bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"actions",
		map[string]string{
			"device_id":   deviceID,
			"action_type": actionType,
		},
		map[string]interface{}{
			"duration_ms": durationMs,
			"success":     success,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteLoopIteration records a scheduler iteration for a loop.
//
// Parameters:
//   - loopID: identifier of the loop
//   - deviceID: device chosen for this iteration
//   - enqueued: whether an execution was actually enqueued (false when
//     the iteration was skipped by throttling or device exhaustion)
func (c *Client) WriteLoopIteration(loopID, deviceID string, enqueued bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"loop_iterations",
		map[string]string{
			"loop_id":   loopID,
			"device_id": deviceID,
		},
		map[string]interface{}{
			"enqueued": enqueued,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("pool_stats",
//	    map[string]string{"host": "core-01"},
//	    map[string]interface{}{"devices_online": 12, "devices_busy": 4})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., backfilled data).
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
