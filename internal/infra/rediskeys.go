package infra

// Redis key and channel names, namespaced so several deployments can share
// one Redis.
const (
	RedisNamespace = "trustgate"
)

// Sets (state).
const (
	RedisKeySuspendedAgents     = RedisNamespace + ":agents:suspended_set"
	RedisKeyLockWarmupSuspended = RedisNamespace + ":lock:warmup:suspended"
)

// Pub/Sub channels (events).
const (
	// RedisChanAgentStatus carries "agentID:on" / "agentID:off" suspension
	// signals from the API to every gateway instance.
	RedisChanAgentStatus = RedisNamespace + ":agents:status-signal"
)
