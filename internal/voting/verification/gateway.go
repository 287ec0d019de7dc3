// Package verification enforces step-up verification before a ballot is
// recorded and adapts the external verification oracles.
//
// Only a keyed digest of the evidence and the oracle's confidence leave this
// package; raw evidence is never returned or logged.
package verification

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"unionvote/internal/voting/metrics"
	"unionvote/internal/voting/models"
	"unionvote/internal/voting/ports"
	id "unionvote/pkg/domain"
	dErrors "unionvote/pkg/domain-errors"
	"unionvote/pkg/platform/audit"
	"unionvote/pkg/platform/privacy"
)

const DefaultTimeout = 5 * time.Second

// AttemptLimiter is the rate-limit hook around oracle calls.
type AttemptLimiter interface {
	Check(ctx context.Context, memberID id.MemberID) error
	RecordFailure(ctx context.Context, memberID id.MemberID) (bool, error)
	Clear(ctx context.Context, memberID id.MemberID) error
}

type Gateway struct {
	oracle         ports.VerificationOracle
	limiter        AttemptLimiter
	timeout        time.Duration
	digestKey      string
	logger         *slog.Logger
	auditPublisher ports.AuditPublisher
	metrics        *metrics.Metrics
}

type Option func(*Gateway)

func WithLimiter(l AttemptLimiter) Option {
	return func(g *Gateway) {
		g.limiter = l
	}
}

func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		g.timeout = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(g *Gateway) {
		g.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// NewGateway wraps oracle. digestKey keys the evidence digest stored with
// ballots.
func NewGateway(oracle ports.VerificationOracle, digestKey string, opts ...Option) (*Gateway, error) {
	if oracle == nil {
		return nil, errors.New("verification oracle is required")
	}
	if digestKey == "" {
		return nil, errors.New("verification digest key is required")
	}
	g := &Gateway{oracle: oracle, digestKey: digestKey, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// AcceptedMethods lists the methods that satisfy the instance's step-up
// policy. An empty list means no step-up is required.
func AcceptedMethods(inst *models.Instance) []models.VerificationMethod {
	switch {
	case inst.Policy.RequiresBiometric:
		return []models.VerificationMethod{models.VerificationBiometric}
	case inst.Policy.RequiresReauth:
		return []models.VerificationMethod{models.VerificationPassword, models.VerificationBiometric}
	}
	return nil
}

func submitted(req *models.VerificationRequest) bool {
	return req != nil && req.Method != "" && req.Method != models.VerificationNone
}

// Precheck rejects a request that cannot satisfy the policy without calling
// the oracle.
func Precheck(inst *models.Instance, req *models.VerificationRequest) error {
	accepted := AcceptedMethods(inst)
	if len(accepted) == 0 {
		if submitted(req) && !req.Method.IsValid() {
			return dErrors.New(dErrors.CodeVerificationRequired, "unknown verification method")
		}
		return nil
	}
	if !submitted(req) {
		return dErrors.New(dErrors.CodeVerificationRequired, "this voting requires "+string(accepted[0])+" verification")
	}
	if !slices.Contains(accepted, req.Method) {
		return dErrors.New(dErrors.CodeVerificationRequired, "verification method "+string(req.Method)+" does not satisfy this voting")
	}
	return nil
}

// Verify runs step-up verification for a ballot in inst. When the policy
// needs nothing and nothing was submitted it returns models.NoProof.
// Voluntary evidence is still checked.
func (g *Gateway) Verify(ctx context.Context, inst *models.Instance, req *models.VerificationRequest) (models.Proof, error) {
	if err := Precheck(inst, req); err != nil {
		return models.Proof{}, err
	}
	if !submitted(req) {
		return models.NoProof, nil
	}

	if g.limiter != nil {
		if err := g.limiter.Check(ctx, req.MemberID); err != nil {
			return models.Proof{}, err
		}
	}

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	result, err := g.oracle.Verify(callCtx, *req)
	if err == nil && callCtx.Err() != nil {
		// An answer that arrives after the deadline does not count.
		err = callCtx.Err()
	}

	if err != nil {
		// Timeouts and outages fail closed but do not count toward lockout.
		outcome := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		g.metrics.ObserveVerification(string(req.Method), outcome, start)
		g.emit(ctx, inst, req, audit.EventVerificationFailed, outcome)
		if g.logger != nil {
			g.logger.WarnContext(ctx, "verification oracle failed",
				"method", req.Method,
				"voting_id", inst.ID,
				"error", err,
			)
		}
		return models.Proof{}, dErrors.Wrap(err, dErrors.CodeVerificationFailed, "verification could not be completed")
	}

	if result == nil || !result.Verified {
		g.metrics.ObserveVerification(string(req.Method), "rejected", start)
		reason := "rejected"
		if result != nil && result.FailureReason != "" {
			reason = result.FailureReason
		}
		g.emit(ctx, inst, req, audit.EventVerificationFailed, reason)
		if g.limiter != nil {
			if _, lerr := g.limiter.RecordFailure(ctx, req.MemberID); lerr != nil && g.logger != nil {
				g.logger.ErrorContext(ctx, "failed to record verification failure", "error", lerr)
			}
		}
		return models.Proof{}, dErrors.New(dErrors.CodeVerificationFailed, "verification was rejected")
	}

	g.metrics.ObserveVerification(string(req.Method), "verified", start)
	if g.limiter != nil {
		if err := g.limiter.Clear(ctx, req.MemberID); err != nil && g.logger != nil {
			g.logger.WarnContext(ctx, "failed to clear verification attempts", "error", err)
		}
	}
	g.emit(ctx, inst, req, audit.EventVerificationSucceeded, "")

	method := result.Method
	if method == "" {
		method = req.Method
	}
	digest := result.Digest
	if digest == "" {
		digest = privacy.Digest(g.digestKey, string(method), req.MemberID.String(), req.Evidence)
	}
	return models.Proof{Method: method, Digest: digest, Confidence: result.Confidence}, nil
}

func (g *Gateway) emit(ctx context.Context, inst *models.Instance, req *models.VerificationRequest, event audit.AuditEvent, reason string) {
	subject := req.MemberID.String()
	if inst.Policy.IsSecret {
		subject = ""
	}
	ports.LogAudit(ctx, g.logger, g.auditPublisher, audit.Event{
		Action:   string(event),
		VotingID: inst.ID,
		Subject:  subject,
		Decision: string(req.Method),
		Reason:   reason,
	})
}
