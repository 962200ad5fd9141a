package service

import (
	"time"

	"alcyxob/artifact-relay/internal/config"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// CorrelationState is the lifecycle of a dispatched request in the tracker.
type CorrelationState int

const (
	StateUnknown CorrelationState = iota
	StatePending
	StateFulfilled
	StateTimedOut
)

func (s CorrelationState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFulfilled:
		return "fulfilled"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

type correlationEntry struct {
	state     CorrelationState
	updatedAt time.Time
}

// Tracker is the optional outstanding-request table. Pending entries that
// expire or are pushed out by capacity become TimedOut. A nil *Tracker
// tracks nothing and accepts every callback.
type Tracker struct {
	outstanding *expirable.LRU[string, correlationEntry]
	timedOut    *expirable.LRU[string, time.Time]
	enforce     bool
	metrics     *Metrics
	logger      *zap.Logger
}

// NewTracker returns nil when correlation tracking is disabled.
func NewTracker(cfg config.CorrelationConfig, metrics *Metrics, logger *zap.Logger) *Tracker {
	if !cfg.Enabled {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 10000
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	t := &Tracker{
		enforce: cfg.Enforce,
		metrics: metrics,
		logger:  logger.Named("correlation"),
	}
	t.timedOut = expirable.NewLRU[string, time.Time](capacity, nil, ttl)
	t.outstanding = expirable.NewLRU[string, correlationEntry](capacity, t.onEvict, ttl)
	return t
}

// onEvict runs under the outstanding table's lock; it must only touch the timedOut table.
func (t *Tracker) onEvict(requestID string, entry correlationEntry) {
	if entry.state != StatePending {
		return
	}
	t.timedOut.Add(requestID, entry.updatedAt)
	t.metrics.timedOut()
	t.logger.Warn("request timed out without callback",
		zap.String("requestId", requestID),
		zap.Time("dispatchedAt", entry.updatedAt),
	)
}

// Enforcing reports whether callbacks with absent or unknown ids are rejected.
func (t *Tracker) Enforcing() bool {
	return t != nil && t.enforce
}

// Pending records a dispatched request.
func (t *Tracker) Pending(requestID string, at time.Time) {
	if t == nil {
		return
	}
	t.outstanding.Add(requestID, correlationEntry{state: StatePending, updatedAt: at})
}

// State returns the tracked state of a request id.
func (t *Tracker) State(requestID string) CorrelationState {
	if t == nil {
		return StateUnknown
	}
	if entry, ok := t.outstanding.Peek(requestID); ok {
		return entry.state
	}
	if _, ok := t.timedOut.Peek(requestID); ok {
		return StateTimedOut
	}
	return StateUnknown
}

// Check validates a callback's correlation id. Without enforcement every id,
// including none, is accepted. Late callbacks for timed out requests are accepted.
func (t *Tracker) Check(requestID *string) error {
	if !t.Enforcing() {
		return nil
	}
	if requestID == nil {
		return ErrUnknownCorrelation
	}
	if t.State(*requestID) == StateUnknown {
		return ErrUnknownCorrelation
	}
	return nil
}

// Fulfill marks the request as answered. Repeated callbacks for the same id stay Fulfilled.
func (t *Tracker) Fulfill(requestID *string, at time.Time) {
	if t == nil || requestID == nil {
		return
	}
	t.timedOut.Remove(*requestID)
	t.outstanding.Add(*requestID, correlationEntry{state: StateFulfilled, updatedAt: at})
}

// Forget drops a request whose dispatch failed; no callback will follow.
func (t *Tracker) Forget(requestID string) {
	if t == nil {
		return
	}
	if entry, ok := t.outstanding.Peek(requestID); ok && entry.state == StatePending {
		// Mark it first so the eviction callback does not count a timeout.
		t.outstanding.Add(requestID, correlationEntry{state: StateFulfilled, updatedAt: entry.updatedAt})
		t.outstanding.Remove(requestID)
	}
}
