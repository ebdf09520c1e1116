// Package gateway is the message core: every send runs the same pipeline of
// registry lookup, policy snapshot, trust evaluation, audit append, and only
// then persistence and live delivery. No delivery path exists that bypasses
// the audit log.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/audit"
	"github.com/xela07ax/trustgate/internal/domain"
	"github.com/xela07ax/trustgate/internal/generate"
	"github.com/xela07ax/trustgate/internal/registry"
	"github.com/xela07ax/trustgate/internal/trust"
)

// MessageStore persists accepted messages for history queries.
type MessageStore interface {
	Save(ctx context.Context, msg domain.Message) error
	ListByAgent(ctx context.Context, agentID string) ([]domain.Message, error)
}

// Deliverer pushes a message onto a live channel, if the recipient has one.
// It must never block the send pipeline.
type Deliverer interface {
	Deliver(agentID string, msg domain.Message) bool
}

// SendRequest is one attempted message exchange.
type SendRequest struct {
	From      string
	To        string
	Content   string
	Kind      domain.MessageKind
	AutoReply bool
	Metadata  map[string]string
}

type Gateway struct {
	repo      registry.Registry
	log       *audit.Log
	messages  MessageStore
	deliverer Deliverer
	gen       generate.Generator
	metrics   *Metrics
	logger    *zap.Logger

	replyTimeout time.Duration
}

// Config carries the gateway's tunables. Generator may be nil to disable
// auto-replies entirely.
type Config struct {
	ReplyTimeout time.Duration
}

func New(repo registry.Registry, log *audit.Log, messages MessageStore, deliverer Deliverer, gen generate.Generator, metrics *Metrics, logger *zap.Logger, cfg Config) *Gateway {
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = 30 * time.Second
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Gateway{
		repo:         repo,
		log:          log,
		messages:     messages,
		deliverer:    deliverer,
		gen:          gen,
		metrics:      metrics,
		logger:       logger.Named("gateway"),
		replyTimeout: cfg.ReplyTimeout,
	}
}

// Send runs the full pipeline. The audit entry is committed before any
// delivery side effect; a denial returns *TrustDeniedError carrying the
// verdict and the entry id.
func (g *Gateway) Send(ctx context.Context, req SendRequest) (domain.Message, domain.TrustLogEntry, error) {
	start := time.Now()
	outcome := "delivered"
	defer func() {
		g.metrics.SendDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	if !domain.ValidKind(req.Kind) {
		outcome = "invalid"
		return domain.Message{}, domain.TrustLogEntry{}, fmt.Errorf("gateway: invalid message kind %q", req.Kind)
	}

	source, err := g.repo.Get(ctx, req.From)
	if err != nil {
		outcome = "unknown_agent"
		g.metrics.ErrorTotal.WithLabelValues("unknown_agent").Inc()
		return domain.Message{}, domain.TrustLogEntry{}, &UnknownAgentError{AgentID: req.From, Err: err}
	}

	// The target may be unknown: the evaluation still runs (fail-closed) and
	// the attempt still lands in the audit log.
	target, err := g.repo.Get(ctx, req.To)
	if err != nil && !errors.Is(err, registry.ErrNotFound) {
		outcome = "unknown_agent"
		g.metrics.ErrorTotal.WithLabelValues("unknown_agent").Inc()
		return domain.Message{}, domain.TrustLogEntry{}, &UnknownAgentError{AgentID: req.To, Err: err}
	}

	verdict, entry := g.evaluate(source, target, req.To)

	if target == nil {
		outcome = "unknown_agent"
		g.metrics.ErrorTotal.WithLabelValues("unknown_agent").Inc()
		return domain.Message{}, entry, &UnknownAgentError{AgentID: req.To}
	}
	if !verdict.Allowed {
		outcome = "denied"
		g.metrics.ErrorTotal.WithLabelValues("trust_denied").Inc()
		g.logger.Info("send blocked",
			zap.String("from", req.From),
			zap.String("to", req.To),
			zap.String("reason", verdict.Reason),
			zap.Uint64("log_id", entry.ID))
		return domain.Message{}, entry, &TrustDeniedError{Verdict: verdict, LogID: entry.ID}
	}

	msg := domain.Message{
		ID:            uuid.New().String(),
		FromAgentID:   req.From,
		ToAgentID:     req.To,
		Content:       req.Content,
		Kind:          req.Kind,
		Timestamp:     time.Now().UTC(),
		TrustVerified: true,
		Metadata:      req.Metadata,
	}

	if err := g.messages.Save(ctx, msg); err != nil {
		outcome = "persist_error"
		g.metrics.ErrorTotal.WithLabelValues("persist").Inc()
		return domain.Message{}, entry, fmt.Errorf("gateway: persist message: %w", err)
	}

	g.metrics.MessagesTotal.WithLabelValues(string(req.Kind)).Inc()

	// Best effort: an offline recipient reads the message from history later.
	if g.deliverer != nil && g.deliverer.Deliver(req.To, msg) {
		msg.Processed = true
		g.metrics.Deliveries.WithLabelValues("delivered").Inc()
	} else {
		g.metrics.Deliveries.WithLabelValues("offline").Inc()
	}

	if err := g.repo.TouchLastActive(ctx, req.From, req.To); err != nil {
		g.logger.Warn("touch last active", zap.Error(err))
	}

	// Replies are generated for plain text only; structured kinds carry
	// payloads a language model has no business answering.
	if req.AutoReply && req.Kind == domain.KindText && g.gen != nil {
		go g.autoReply(msg)
	}

	return msg, entry, nil
}

// VerifyTrust runs the evaluation without sending anything. The check is
// still recorded: verification-only calls are audit events too.
func (g *Gateway) VerifyTrust(ctx context.Context, sourceID, targetID string) (domain.Verdict, domain.TrustLogEntry, error) {
	source, err := g.repo.Get(ctx, sourceID)
	if err != nil {
		g.metrics.ErrorTotal.WithLabelValues("unknown_agent").Inc()
		return domain.Verdict{}, domain.TrustLogEntry{}, &UnknownAgentError{AgentID: sourceID, Err: err}
	}

	target, err := g.repo.Get(ctx, targetID)
	if err != nil && !errors.Is(err, registry.ErrNotFound) {
		g.metrics.ErrorTotal.WithLabelValues("unknown_agent").Inc()
		return domain.Verdict{}, domain.TrustLogEntry{}, &UnknownAgentError{AgentID: targetID, Err: err}
	}

	verdict, entry := g.evaluate(source, target, targetID)
	return verdict, entry, nil
}

// History lists the persisted messages an agent sent or received.
func (g *Gateway) History(ctx context.Context, agentID string) ([]domain.Message, error) {
	return g.messages.ListByAgent(ctx, agentID)
}

// evaluate applies the source's policy snapshot to the target and commits
// the audit entry. target may be nil (fails closed).
func (g *Gateway) evaluate(source, target *domain.Agent, targetID string) (domain.Verdict, domain.TrustLogEntry) {
	verdict := trust.Evaluate(source, target, source.Policies)
	entry := g.log.Append(domain.TrustLogEntry{
		SourceAgentID:   source.ID,
		TargetAgentID:   targetID,
		Result:          verdict,
		PoliciesApplied: source.Policies,
	})
	return verdict, entry
}

// autoReply generates a response off the caller's request cycle and feeds it
// back through the full pipeline with from/to swapped. A generation failure
// is logged and counted, never surfaced to the original sender.
func (g *Gateway) autoReply(orig domain.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), g.replyTimeout)
	defer cancel()

	content, err := g.gen.Generate(ctx, orig)
	if err != nil {
		g.metrics.ErrorTotal.WithLabelValues("generation").Inc()
		g.logger.Error("auto-reply generation failed",
			zap.String("message_id", orig.ID),
			zap.Error(err))
		return
	}

	_, _, err = g.Send(ctx, SendRequest{
		From:    orig.ToAgentID,
		To:      orig.FromAgentID,
		Content: content,
		Kind:    domain.KindGeneratedReply,
		Metadata: map[string]string{
			"in_reply_to": orig.ID,
		},
	})
	if err != nil {
		g.logger.Warn("auto-reply send failed",
			zap.String("message_id", orig.ID),
			zap.Error(err))
		return
	}
	g.metrics.GeneratedReplies.Inc()
}
