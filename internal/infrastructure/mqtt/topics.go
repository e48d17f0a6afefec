package mqtt

import "fmt"

// Topic prefixes for TapForge MQTT traffic.
//
// Two topic families cross the broker:
//   - queue topics: units of work (execution ids) fanned out to workers
//   - agent topics: registration and heartbeats from remote device agents
const (
	// TopicPrefixCore is the base for all core topics.
	TopicPrefixCore = "tapforge"

	// TopicPrefixQueue is the base for work-queue topics.
	TopicPrefixQueue = "tapforge/queue"

	// TopicPrefixAgent is the base for device-agent topics.
	TopicPrefixAgent = "tapforge/agent"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "tapforge/system"
)

// Topics provides builders for TapForge MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	queueTopic := topics.ExecutionQueue()
//	// Returns: "tapforge/queue/executions"
type Topics struct{}

// =============================================================================
// Queue Topics
// =============================================================================

// ExecutionQueue returns the topic carrying pending execution ids.
//
// Example: tapforge/queue/executions
func (Topics) ExecutionQueue() string {
	return fmt.Sprintf("%s/executions", TopicPrefixQueue)
}

// =============================================================================
// Agent Topics
// =============================================================================

// AgentRegister returns the topic an agent publishes its registration to.
//
// Example: tapforge/agent/agent-7f3a/register
func (Topics) AgentRegister(agentID string) string {
	return fmt.Sprintf("%s/%s/register", TopicPrefixAgent, agentID)
}

// AgentHeartbeat returns the topic an agent publishes heartbeats to.
//
// Example: tapforge/agent/agent-7f3a/heartbeat
func (Topics) AgentHeartbeat(agentID string) string {
	return fmt.Sprintf("%s/%s/heartbeat", TopicPrefixAgent, agentID)
}

// =============================================================================
// Core Topics
// =============================================================================

// ExecutionStatus returns the topic for execution status change events.
//
// Example: tapforge/execution/exec-abc123/status
func (Topics) ExecutionStatus(executionID string) string {
	return fmt.Sprintf("%s/execution/%s/status", TopicPrefixCore, executionID)
}

// LoopStatus returns the topic for loop status change events.
//
// Example: tapforge/loop/loop-42/status
func (Topics) LoopStatus(loopID string) string {
	return fmt.Sprintf("%s/loop/%s/status", TopicPrefixCore, loopID)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the system status topic.
//
// Example: tapforge/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// SystemShutdown returns the shutdown signal topic.
//
// Example: tapforge/system/shutdown
func (Topics) SystemShutdown() string {
	return fmt.Sprintf("%s/shutdown", TopicPrefixSystem)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllAgentRegistrations returns a pattern matching all agent registrations.
//
// Pattern: tapforge/agent/+/register
func (Topics) AllAgentRegistrations() string {
	return fmt.Sprintf("%s/+/register", TopicPrefixAgent)
}

// AllAgentHeartbeats returns a pattern matching all agent heartbeats.
//
// Pattern: tapforge/agent/+/heartbeat
func (Topics) AllAgentHeartbeats() string {
	return fmt.Sprintf("%s/+/heartbeat", TopicPrefixAgent)
}

// AllExecutionStatuses returns a pattern matching all execution status events.
//
// Pattern: tapforge/execution/+/status
func (Topics) AllExecutionStatuses() string {
	return fmt.Sprintf("%s/execution/+/status", TopicPrefixCore)
}

// AllTopics returns a pattern matching all TapForge topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: tapforge/#
func (Topics) AllTopics() string {
	return "tapforge/#"
}

// AgentIDFromTopic extracts the agent id from an agent topic.
// Returns the empty string if the topic is not an agent topic.
//
// Example: "tapforge/agent/agent-7f3a/heartbeat" -> "agent-7f3a"
func AgentIDFromTopic(topic string) string {
	prefix := TopicPrefixAgent + "/"
	if len(topic) <= len(prefix) || topic[:len(prefix)] != prefix {
		return ""
	}
	rest := topic[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i]
		}
	}
	return ""
}
