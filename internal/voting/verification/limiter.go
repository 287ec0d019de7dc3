package verification

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"unionvote/internal/voting/ports"
	"unionvote/internal/voting/verification/attempts"
	id "unionvote/pkg/domain"
	dErrors "unionvote/pkg/domain-errors"
	"unionvote/pkg/platform/audit"
	"unionvote/pkg/requestcontext"
)

// AttemptStore persists failure counts. See package attempts.
type AttemptStore interface {
	Get(ctx context.Context, key string, now time.Time) (attempts.Record, error)
	Increment(ctx context.Context, key string, now time.Time, window time.Duration) (int, error)
	Lock(ctx context.Context, key string, until time.Time) error
	Clear(ctx context.Context, key string) error
}

type LimiterConfig struct {
	// MaxFailures consecutive rejections within Window lock the member out.
	MaxFailures int
	Window      time.Duration
	Lockout     time.Duration
}

func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		MaxFailures: 5,
		Window:      15 * time.Minute,
		Lockout:     15 * time.Minute,
	}
}

// Limiter rejects step-up attempts after too many consecutive failures.
// A success clears the count.
type Limiter struct {
	store          AttemptStore
	config         LimiterConfig
	logger         *slog.Logger
	auditPublisher ports.AuditPublisher
}

type LimiterOption func(*Limiter)

func WithLimiterLogger(logger *slog.Logger) LimiterOption {
	return func(l *Limiter) {
		l.logger = logger
	}
}

func WithLimiterAuditPublisher(publisher ports.AuditPublisher) LimiterOption {
	return func(l *Limiter) {
		l.auditPublisher = publisher
	}
}

func WithLimiterConfig(cfg LimiterConfig) LimiterOption {
	return func(l *Limiter) {
		l.config = cfg
	}
}

func NewLimiter(store AttemptStore, opts ...LimiterOption) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("verification attempt store is required")
	}
	l := &Limiter{store: store, config: DefaultLimiterConfig()}
	for _, opt := range opts {
		opt(l)
	}
	if l.config.MaxFailures <= 0 {
		return nil, errors.New("verification max failures must be positive")
	}
	return l, nil
}

func limiterKey(memberID id.MemberID) string { return memberID.String() }

// Check fails with rate_limited while the member is locked out or has used
// up the window's attempts.
func (l *Limiter) Check(ctx context.Context, memberID id.MemberID) error {
	now := requestcontext.Now(ctx)
	record, err := l.store.Get(ctx, limiterKey(memberID), now)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read verification attempts")
	}
	if record.LockedUntil != nil || record.Failures >= l.config.MaxFailures {
		return dErrors.New(dErrors.CodeRateLimited, "too many failed verification attempts; try again later")
	}
	return nil
}

// RecordFailure counts a rejected attempt and reports whether it locked the
// member out.
func (l *Limiter) RecordFailure(ctx context.Context, memberID id.MemberID) (bool, error) {
	now := requestcontext.Now(ctx)
	n, err := l.store.Increment(ctx, limiterKey(memberID), now, l.config.Window)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record verification failure")
	}
	if n < l.config.MaxFailures {
		return false, nil
	}
	until := now.Add(l.config.Lockout)
	if err := l.store.Lock(ctx, limiterKey(memberID), until); err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to lock verification")
	}
	ports.LogAudit(ctx, l.logger, l.auditPublisher, audit.Event{
		Action:  string(audit.EventVerificationLocked),
		Subject: memberID.String(),
		Reason:  "max_failures_reached",
	}, "locked_until", until)
	return true, nil
}

func (l *Limiter) Clear(ctx context.Context, memberID id.MemberID) error {
	if err := l.store.Clear(ctx, limiterKey(memberID)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear verification attempts")
	}
	return nil
}
