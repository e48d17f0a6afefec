// Package mqtt provides MQTT client connectivity for TapForge Core.
//
// This package manages:
//   - Connection to Mosquitto broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// TapForge uses MQTT for two concerns: fanning out queued execution ids
// to workers, and receiving registration and heartbeat traffic from
// remote device agents. The broker (Mosquitto) decouples the Core from
// the agents, which may run on separate hosts next to their phones.
//
//	TapForge Core ↔ MQTT Broker ↔ Device Agents
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Performance Characteristics
//
//   - Connection: <1 second to local broker
//   - Publish latency: <10ms for QoS 1 to local broker
//   - Reconnect: Exponential backoff 1s-60s with jitter
//   - Message throughput: Broker-limited (typically 10K+ msg/sec)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all agent heartbeats
//	err = client.Subscribe(mqtt.Topics{}.AllAgentHeartbeats(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Enqueue an execution
//	topic := mqtt.Topics{}.ExecutionQueue()
//	client.Publish(topic, []byte(`{"execution_id":"abc"}`), 1, false)
package mqtt
