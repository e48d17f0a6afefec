package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Registration is the payload an agent publishes when it first connects.
type Registration struct {
	AgentID     string `json:"agent_id"`
	Name        string `json:"name"`
	PairingCode string `json:"pairing_code"`
}

// Heartbeat is the periodic payload an agent publishes listing the
// devices currently attached to it.
type Heartbeat struct {
	AgentID string            `json:"agent_id"`
	Devices []HeartbeatDevice `json:"devices"`
}

// HeartbeatDevice describes one device in a heartbeat.
type HeartbeatDevice struct {
	Serial  string `json:"serial"`
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
	Online  bool   `json:"online"`
}

// AgentGateway ingests registration and heartbeat traffic from remote
// device agents and applies it to the device repository. Heartbeats are
// the authoritative source of ONLINE/OFFLINE presence for agent devices.
//
// The gateway never touches a busy device: a lease stays intact even when
// the agent stops reporting the device, and presence catches up on the
// next heartbeat after release.
type AgentGateway struct {
	repo        Repository
	pairingCode string
	logger      Logger
}

// NewAgentGateway creates a gateway that verifies registrations against
// the given pairing code. An empty pairing code accepts any registration.
func NewAgentGateway(repo Repository, pairingCode string) *AgentGateway {
	return &AgentGateway{
		repo:        repo,
		pairingCode: pairingCode,
		logger:      noopLogger{},
	}
}

// SetLogger sets the logger for the gateway.
func (g *AgentGateway) SetLogger(logger Logger) {
	g.logger = logger
}

// HandleRegistration processes an agent registration message.
// The handler signature matches the broker client's subscription callback.
func (g *AgentGateway) HandleRegistration(topic string, payload []byte) error {
	var reg Registration
	if err := json.Unmarshal(payload, &reg); err != nil {
		return fmt.Errorf("decoding registration: %w", err)
	}

	if reg.AgentID == "" {
		reg.AgentID = agentIDFromTopic(topic)
	}
	if reg.AgentID == "" {
		return fmt.Errorf("registration on %s: missing agent id", topic)
	}

	if g.pairingCode != "" && reg.PairingCode != g.pairingCode {
		g.logger.Warn("agent registration rejected", "agent_id", reg.AgentID)
		return ErrPairingRejected
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now().UTC()
	agent := &Agent{
		ID:           reg.AgentID,
		Name:         reg.Name,
		LastSeenAt:   &now,
		RegisteredAt: now,
	}
	if err := g.repo.UpsertAgent(ctx, agent); err != nil {
		return fmt.Errorf("registering agent %s: %w", reg.AgentID, err)
	}

	g.logger.Info("agent registered", "agent_id", reg.AgentID, "name", reg.Name)
	return nil
}

// HandleHeartbeat processes an agent heartbeat message.
//
// Devices in the heartbeat are upserted by serial; known agent devices
// absent from the heartbeat are marked offline. Busy devices are skipped
// in both directions.
func (g *AgentGateway) HandleHeartbeat(topic string, payload []byte) error {
	var hb Heartbeat
	if err := json.Unmarshal(payload, &hb); err != nil {
		return fmt.Errorf("decoding heartbeat: %w", err)
	}

	if hb.AgentID == "" {
		hb.AgentID = agentIDFromTopic(topic)
	}
	if hb.AgentID == "" {
		return fmt.Errorf("heartbeat on %s: missing agent id", topic)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Heartbeats from unregistered agents are dropped.
	agent, err := g.repo.GetAgent(ctx, hb.AgentID)
	if err != nil {
		g.logger.Warn("heartbeat from unknown agent", "agent_id", hb.AgentID)
		return err
	}

	now := time.Now().UTC()
	agent.LastSeenAt = &now
	if err := g.repo.UpsertAgent(ctx, agent); err != nil {
		return fmt.Errorf("touching agent %s: %w", hb.AgentID, err)
	}

	reported := make(map[string]bool, len(hb.Devices))
	for i := range hb.Devices {
		reported[hb.Devices[i].Serial] = true
		if err := g.applyDevice(ctx, hb.AgentID, hb.Devices[i]); err != nil {
			g.logger.Error("applying heartbeat device failed",
				"agent_id", hb.AgentID,
				"serial", hb.Devices[i].Serial,
				"error", err)
		}
	}

	// Devices this agent used to report but no longer does go offline.
	known, err := g.repo.ListByAgent(ctx, hb.AgentID)
	if err != nil {
		return fmt.Errorf("listing agent devices: %w", err)
	}
	for i := range known {
		d := &known[i]
		if reported[d.Serial] || d.Status == StatusBusy || d.Status == StatusOffline {
			continue
		}
		if err := g.repo.SetStatus(ctx, d.ID, StatusOffline); err != nil {
			g.logger.Error("marking vanished device offline failed",
				"device_id", d.ID, "error", err)
		}
	}

	return nil
}

// applyDevice upserts a single heartbeat device.
func (g *AgentGateway) applyDevice(ctx context.Context, agentID string, hd HeartbeatDevice) error {
	status := StatusOffline
	if hd.Online {
		status = StatusOnline
	}

	existing, err := g.repo.GetBySerial(ctx, hd.Serial)
	switch {
	case errors.Is(err, ErrNotFound):
		// New device: register it offline-first unless the agent says online.
		name := hd.Name
		if name == "" {
			name = hd.Serial
		}
		d := &Device{
			ID:      GenerateID(),
			Name:    name,
			Serial:  hd.Serial,
			Address: hd.Address,
			Status:  status,
			Enabled: true,
			AgentID: &agentID,
		}
		if createErr := g.repo.Create(ctx, d); createErr != nil {
			return createErr
		}
		g.logger.Info("device discovered", "serial", hd.Serial, "agent_id", agentID)
		return nil

	case err != nil:
		return fmt.Errorf("looking up device %s: %w", hd.Serial, err)
	}

	// A lease outranks presence; the device resolves on release.
	if existing.Status == StatusBusy {
		return nil
	}

	existing.Status = status
	existing.AgentID = &agentID
	if hd.Address != "" {
		existing.Address = hd.Address
	}
	if hd.Name != "" {
		existing.Name = hd.Name
	}
	return g.repo.Update(ctx, existing)
}

// agentIDFromTopic extracts the agent id from topics shaped
// {prefix}/agent/{agent_id}/{suffix}.
func agentIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "agent" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}
