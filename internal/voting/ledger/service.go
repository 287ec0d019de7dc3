// Package ledger records ballots.
//
// CastBallot runs the slow checks (selection shape, step-up verification)
// before taking any lock, then re-evaluates eligibility and appends the
// ballot inside one per-instance transaction. The ballot store's uniqueness
// guarantee is the final word on duplicates.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	membermodels "unionvote/internal/member/models"
	"unionvote/internal/voting/eligibility"
	"unionvote/internal/voting/metrics"
	"unionvote/internal/voting/models"
	"unionvote/internal/voting/ports"
	"unionvote/internal/voting/store/txrunner"
	id "unionvote/pkg/domain"
	dErrors "unionvote/pkg/domain-errors"
	"unionvote/pkg/platform/audit"
	"unionvote/pkg/platform/privacy"
	"unionvote/pkg/platform/sentinel"
	"unionvote/pkg/requestcontext"
)

type InstanceStore interface {
	Get(ctx context.Context, votingID id.VotingID) (*models.Instance, error)
	UpdateCounters(ctx context.Context, votingID id.VotingID, counters models.Counters) error
}

type BallotStore interface {
	Append(ctx context.Context, b *models.Ballot, replace bool) (superseded bool, err error)
	Counts(ctx context.Context, votingID id.VotingID) (models.BallotCounts, error)
}

type Eligibility interface {
	Member(ctx context.Context, memberID id.MemberID) (*membermodels.Member, error)
	Check(ctx context.Context, inst *models.Instance, member *membermodels.Member) (eligibility.Decision, error)
	CountEligible(ctx context.Context, inst *models.Instance) (int64, error)
	BallotSecret() string
}

type Verifier interface {
	Verify(ctx context.Context, inst *models.Instance, req *models.VerificationRequest) (models.Proof, error)
}

type TxRunner interface {
	RunInTx(ctx context.Context, votingID id.VotingID, mode txrunner.Mode, fn func(ctx context.Context) error) error
}

// Tabulator recomputes results after a ballot lands in a realtime voting.
type Tabulator interface {
	Tabulate(ctx context.Context, votingID id.VotingID) (*models.Tabulation, error)
}

// CastRequest is a member's ballot. A nil Selection is an abstention.
type CastRequest struct {
	VotingID     id.VotingID
	MemberID     id.MemberID
	Selection    models.Selection
	Verification *models.VerificationRequest
	ClientIP     string
	UserAgent    string
}

type Service struct {
	instances      InstanceStore
	ballots        BallotStore
	eligibility    Eligibility
	verifier       Verifier
	tx             TxRunner
	tabulator      Tabulator
	ipSalt         string
	logger         *slog.Logger
	auditPublisher ports.AuditPublisher
	metrics        *metrics.Metrics
	tracer         trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTabulator(t Tabulator) Option {
	return func(s *Service) {
		s.tabulator = t
	}
}

// WithIPSalt keys the client IP hash stored with ballots. Without a salt
// no IP hash is stored.
func WithIPSalt(salt string) Option {
	return func(s *Service) {
		s.ipSalt = salt
	}
}

func New(instances InstanceStore, ballots BallotStore, elig Eligibility, verifier Verifier, tx TxRunner, opts ...Option) (*Service, error) {
	if instances == nil || ballots == nil {
		return nil, errors.New("ledger: instance and ballot stores are required")
	}
	if elig == nil || verifier == nil || tx == nil {
		return nil, errors.New("ledger: eligibility, verifier and tx runner are required")
	}
	s := &Service{
		instances:   instances,
		ballots:     ballots,
		eligibility: elig,
		verifier:    verifier,
		tx:          tx,
		tracer:      otel.Tracer("unionvote/voting/ledger"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CastBallot records req. Failures leave no ballot behind; only rejected
// step-up attempts are counted.
func (s *Service) CastBallot(ctx context.Context, req CastRequest) (*models.Ballot, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "ledger.CastBallot", trace.WithAttributes(
		attribute.String("voting.id", req.VotingID.String()),
	))
	defer span.End()

	b, err := s.cast(ctx, req)
	s.metrics.ObserveCast(start)
	if err != nil {
		code := dErrors.CodeOf(err)
		s.metrics.IncBallot(string(code))
		span.SetStatus(codes.Error, string(code))
		return nil, err
	}
	s.metrics.IncBallot("accepted")
	return b, nil
}

func (s *Service) cast(ctx context.Context, req CastRequest) (*models.Ballot, error) {
	inst, err := s.loadInstance(ctx, req.VotingID)
	if err != nil {
		return nil, err
	}
	member, err := s.eligibility.Member(ctx, req.MemberID)
	if err != nil {
		return nil, err
	}

	// Cheap rejection before the oracle is bothered; repeated under the lock.
	decision, err := s.eligibility.Check(ctx, inst, member)
	if err != nil {
		return nil, err
	}
	if !decision.Eligible {
		s.reject(ctx, inst, req.MemberID, string(decision.Reason))
		return nil, decision.Err()
	}

	sel := normalizeSelection(inst, req.Selection)
	if err := models.ValidateSelection(inst, sel); err != nil {
		s.reject(ctx, inst, req.MemberID, "invalid_selection")
		return nil, err
	}

	// Verification may be slow; it must not run while the instance lock is held.
	var verification *models.VerificationRequest
	if req.Verification != nil {
		v := *req.Verification
		v.MemberID = req.MemberID
		verification = &v
	}
	proof, err := s.verifier.Verify(ctx, inst, verification)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	ballot := &models.Ballot{
		ID:                     id.NewBallotID(),
		VotingID:               inst.ID,
		VoterKey:               models.VoterKey(s.eligibility.BallotSecret(), inst, req.MemberID),
		Selection:              sel,
		IsAbstention:           sel == nil,
		VerificationMethod:     proof.Method,
		VerificationDigest:     proof.Digest,
		VerificationConfidence: proof.Confidence,
		CastAt:                 now,
	}
	if inst.Policy.IsSecret {
		// Secret ballots are anonymous from the moment they are written.
		ballot.Anonymize(true, now)
	} else {
		memberID := req.MemberID
		ballot.MemberID = &memberID
		if s.ipSalt != "" && req.ClientIP != "" {
			ballot.IPHash = privacy.HashIP(s.ipSalt, req.ClientIP)
		}
		ballot.Device = DeviceLabel(req.UserAgent)
	}

	var changed bool
	err = s.tx.RunInTx(ctx, inst.ID, txrunner.Shared, func(ctx context.Context) error {
		current, err := s.loadInstance(ctx, inst.ID)
		if err != nil {
			return err
		}
		decision, err := s.eligibility.Check(ctx, current, member)
		if err != nil {
			return err
		}
		if !decision.Eligible {
			return decision.Err()
		}
		changed, err = s.ballots.Append(ctx, ballot, current.Policy.AllowVoteChange)
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return dErrors.New(dErrors.CodeDuplicateVote, "a ballot for this member was recorded concurrently")
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record ballot")
		}
		return nil
	})
	if err != nil {
		s.reject(ctx, inst, req.MemberID, string(dErrors.CodeOf(err)))
		return nil, err
	}

	event := audit.EventBallotCast
	if changed {
		event = audit.EventBallotChanged
	}
	ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.Event{
		Action:   string(event),
		VotingID: inst.ID,
		Subject:  auditSubject(inst, req.MemberID),
		Decision: string(proof.Method),
	}, "abstention", ballot.IsAbstention)

	s.afterCommit(ctx, inst)
	return ballot, nil
}

// afterCommit refreshes derived state. The ballot is already durable, so
// failures here are logged and left for the next ballot or sweep to repair.
func (s *Service) afterCommit(ctx context.Context, inst *models.Instance) {
	if inst.ResultsMode == models.ResultsRealtime && s.tabulator != nil {
		if _, err := s.tabulator.Tabulate(ctx, inst.ID); err != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "realtime tabulation failed", "voting_id", inst.ID, "error", err)
		}
		return
	}
	if err := s.RefreshCounters(ctx, inst); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to refresh voting counters", "voting_id", inst.ID, "error", err)
	}
}

// RefreshCounters recomputes the cached counters from the ballot set. It
// runs under the exclusive lock so concurrent refreshes cannot write back
// stale counts.
func (s *Service) RefreshCounters(ctx context.Context, inst *models.Instance) error {
	eligible, err := s.eligibility.CountEligible(ctx, inst)
	if err != nil {
		return err
	}
	return s.tx.RunInTx(ctx, inst.ID, txrunner.Exclusive, func(ctx context.Context) error {
		counts, err := s.ballots.Counts(ctx, inst.ID)
		if err != nil {
			return fmt.Errorf("count ballots: %w", err)
		}
		return s.instances.UpdateCounters(ctx, inst.ID, CountersFor(inst, counts, eligible))
	})
}

// CountersFor derives the cached counters. Abstentions count toward
// participation.
func CountersFor(inst *models.Instance, counts models.BallotCounts, eligible int64) models.Counters {
	rate := models.PercentOf(counts.Total, eligible)
	return models.Counters{
		TotalVotes:        counts.NonAbstention(),
		TotalParticipants: counts.Total,
		ParticipationRate: rate,
		QuorumReached:     !inst.Quorum.Required || rate >= inst.Quorum.Percentage,
	}
}

// normalizeSelection records an empty approval as an abstention when the
// voting allows abstaining.
func normalizeSelection(inst *models.Instance, sel models.Selection) models.Selection {
	if a, ok := sel.(models.Approval); ok && len(a.Options) == 0 && inst.Policy.AllowAbstention {
		return nil
	}
	return sel
}

func (s *Service) loadInstance(ctx context.Context, votingID id.VotingID) (*models.Instance, error) {
	inst, err := s.instances.Get(ctx, votingID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "voting not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load voting")
	}
	return inst, nil
}

func (s *Service) reject(ctx context.Context, inst *models.Instance, memberID id.MemberID, reason string) {
	ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.Event{
		Action:   string(audit.EventBallotRejected),
		VotingID: inst.ID,
		Subject:  auditSubject(inst, memberID),
		Reason:   reason,
	})
}

func auditSubject(inst *models.Instance, memberID id.MemberID) string {
	if inst.Policy.IsSecret {
		return ""
	}
	return memberID.String()
}
