package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/infra"
)

// SuspendWatcher keeps an L1 (in-RAM) cache of suspended agent ids, fed from
// a Redis set at startup and a pub/sub channel afterwards. The gateway's
// HTTP layer consults IsSuspended on the hot path; the evaluator never sees
// lifecycle status, so evaluation stays pure.
type SuspendWatcher struct {
	mu        sync.RWMutex
	suspended map[string]struct{}

	repo   Registry
	rdb    *redis.Client
	logger *zap.Logger
}

func NewSuspendWatcher(rdb *redis.Client, repo Registry, logger *zap.Logger) *SuspendWatcher {
	return &SuspendWatcher{
		suspended: make(map[string]struct{}),
		repo:      repo,
		rdb:       rdb,
		logger:    logger.With(zap.String("mod", "suspend-watcher")),
	}
}

// Init warms the L1 cache from the registry and, under a distributed lock,
// backfills the Redis set when it is empty (first instance up after a flush).
func (w *SuspendWatcher) Init(ctx context.Context) error {
	ids, err := w.repo.SuspendedAgents(ctx)
	if err != nil {
		return fmt.Errorf("fetch suspended agents: %w", err)
	}

	w.mu.Lock()
	w.suspended = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		w.suspended[id] = struct{}{}
	}
	w.mu.Unlock()

	// SetNX so only one instance performs the Redis warmup.
	ok, err := w.rdb.SetNX(ctx, infra.RedisKeyLockWarmupSuspended, "processing", 30*time.Second).Result()
	if err != nil || !ok {
		return nil
	}

	count, err := w.rdb.SCard(ctx, infra.RedisKeySuspendedAgents).Result()
	if err != nil {
		count = 0
		w.logger.Warn("could not check redis set size, proceeding with warm-up", zap.Error(err))
	}

	if count == 0 && len(ids) > 0 {
		w.logger.Info("redis cache empty, warming up from registry", zap.Int("count", len(ids)))
		pipe := w.rdb.Pipeline()
		for _, id := range ids {
			pipe.SAdd(ctx, infra.RedisKeySuspendedAgents, id)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Run subscribes to the status channel and keeps the L1 cache current,
// resubscribing (and re-syncing through Init) after any transport failure.
// Blocks until ctx is canceled.
func (w *SuspendWatcher) Run(ctx context.Context) {
	for {
		pubsub := w.rdb.Subscribe(ctx, infra.RedisChanAgentStatus)

		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to subscribe", zap.Error(err))
			time.Sleep(5 * time.Second)
			continue
		}

		// Re-sync on every successful (re)connect: signals may have been
		// missed while disconnected.
		if err := w.Init(ctx); err != nil {
			w.logger.Error("sync failed on reconnect", zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop
				}
				w.processSignal(msg.Payload)
			}
		}

		pubsub.Close()
		time.Sleep(time.Second)
	}
}

// processSignal parses "agentID:on" / "agentID:off".
func (w *SuspendWatcher) processSignal(payload string) {
	idx := strings.LastIndex(payload, ":")
	if idx <= 0 {
		w.logger.Error("invalid signal format", zap.String("payload", payload))
		return
	}
	agentID, state := payload[:idx], payload[idx+1:]

	w.mu.Lock()
	defer w.mu.Unlock()
	switch state {
	case "on", "true":
		w.suspended[agentID] = struct{}{}
	case "off", "false":
		delete(w.suspended, agentID)
	default:
		w.logger.Error("invalid signal state", zap.String("payload", payload))
	}
}

// IsSuspended is the hot-path check; RAM only.
func (w *SuspendWatcher) IsSuspended(agentID string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.suspended[agentID]
	return ok
}

// Broadcast publishes a suspension change so every instance (this one
// included) updates its cache, and mirrors it into the warmup set.
func Broadcast(ctx context.Context, rdb *redis.Client, agentID string, suspended bool) error {
	state := "off"
	if suspended {
		state = "on"
	}
	if suspended {
		if err := rdb.SAdd(ctx, infra.RedisKeySuspendedAgents, agentID).Err(); err != nil {
			return err
		}
	} else {
		if err := rdb.SRem(ctx, infra.RedisKeySuspendedAgents, agentID).Err(); err != nil {
			return err
		}
	}
	return rdb.Publish(ctx, infra.RedisChanAgentStatus, agentID+":"+state).Err()
}
