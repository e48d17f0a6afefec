package device

import (
	"time"

	"github.com/google/uuid"
)

// Device represents an Android device available for automation.
// Devices are reported by remote agents over the broker and leased to
// executions by the pool allocator.
type Device struct {
	// Identity
	ID     string `json:"id"`
	Name   string `json:"name"`
	Serial string `json:"serial"`

	// Network address (host:port) for TCP devices; empty for USB
	Address string `json:"address"`

	// Current state
	Status Status `json:"status"`

	// Configuration
	Enabled bool `json:"enabled"`

	// Last time the device was leased (LRU key; nil = never used)
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`

	// Agent that reports this device (nil for locally attached devices)
	AgentID *string `json:"agent_id,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status represents the availability state of a device.
type Status string

const (
	// StatusOnline means the device is reachable and free for leasing.
	StatusOnline Status = "online"

	// StatusOffline means the device is not reachable.
	StatusOffline Status = "offline"

	// StatusBusy means the device is leased to a running execution.
	StatusBusy Status = "busy"

	// StatusError means the device's last execution failed in a way that
	// warrants inspection. Error devices return to the pool on Release.
	StatusError Status = "error"
)

// AllStatuses returns all valid device statuses.
func AllStatuses() []Status {
	return []Status{StatusOnline, StatusOffline, StatusBusy, StatusError}
}

// Available reports whether the device can be leased right now.
func (d *Device) Available() bool {
	return d.Enabled && d.Status == StatusOnline
}

// Agent represents a remote host that attaches devices and reports their
// presence via registration and heartbeat messages.
type Agent struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty"`
	RegisteredAt time.Time  `json:"registered_at"`
}

// DeepCopy creates a complete independent copy of the Device.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d
	cpy.LastUsedAt = cloneTimePtr(d.LastUsedAt)
	cpy.AgentID = cloneStringPtr(d.AgentID)
	return &cpy
}

// GenerateID creates a new UUID for a device.
func GenerateID() string {
	return uuid.New().String()
}

func cloneStringPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
