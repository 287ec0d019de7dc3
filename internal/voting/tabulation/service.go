package tabulation

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
	"golang.org/x/sync/errgroup"

	"unionvote/internal/voting/metrics"
	"unionvote/internal/voting/models"
	"unionvote/internal/voting/ports"
	"unionvote/internal/voting/store/txrunner"
	id "unionvote/pkg/domain"
	dErrors "unionvote/pkg/domain-errors"
	"unionvote/pkg/platform/audit"
	"unionvote/pkg/platform/sentinel"
	"unionvote/pkg/requestcontext"
)

type InstanceStore interface {
	Get(ctx context.Context, votingID id.VotingID) (*models.Instance, error)
	UpdateCounters(ctx context.Context, votingID id.VotingID, counters models.Counters) error
}

type BallotReader interface {
	ListCurrent(ctx context.Context, votingID id.VotingID) ([]*models.Ballot, error)
}

type ResultStore interface {
	Current(ctx context.Context, votingID id.VotingID) (*models.Tabulation, error)
	Replace(ctx context.Context, tab *models.Tabulation, expectedVersion int64) error
}

// EligibleCounter sizes the eligible universe for participation.
type EligibleCounter interface {
	CountEligible(ctx context.Context, inst *models.Instance) (int64, error)
}

type TxRunner interface {
	RunInTx(ctx context.Context, votingID id.VotingID, mode txrunner.Mode, fn func(ctx context.Context) error) error
}

const DefaultRetries = 3

type Service struct {
	instances      InstanceStore
	ballots        BallotReader
	results        ResultStore
	eligible       EligibleCounter
	tx             TxRunner
	retries        int
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

// WithRetries bounds attempts after a version conflict.
func WithRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.retries = n
		}
	}
}

func New(instances InstanceStore, ballots BallotReader, results ResultStore, eligible EligibleCounter, tx TxRunner, opts ...Option) (*Service, error) {
	if instances == nil || ballots == nil || results == nil {
		return nil, errors.New("tabulation: instance, ballot and result stores are required")
	}
	if eligible == nil || tx == nil {
		return nil, errors.New("tabulation: eligibility counter and tx runner are required")
	}
	s := &Service{
		instances: instances,
		ballots:   ballots,
		results:   results,
		eligible:  eligible,
		tx:        tx,
		retries:   DefaultRetries,
		tracer:    otel.Tracer("unionvote/voting/tabulation"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Tabulate recomputes and stores the results of votingID under the
// instance's exclusive lock.
func (s *Service) Tabulate(ctx context.Context, votingID id.VotingID) (*models.Tabulation, error) {
	inst, err := s.load(ctx, votingID)
	if err != nil {
		return nil, err
	}
	// The directory is external; ask it before the lock is taken.
	eligible, err := s.eligible.CountEligible(ctx, inst)
	if err != nil {
		return nil, err
	}

	var tab *models.Tabulation
	err = s.tx.RunInTx(ctx, votingID, txrunner.Exclusive, func(ctx context.Context) error {
		current, err := s.load(ctx, votingID)
		if err != nil {
			return err
		}
		tab, err = s.recompute(ctx, current, eligible)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tab, nil
}

// Recompute tabulates inst and stores the result. The caller must already
// hold the instance's exclusive lock; lifecycle transitions use it so the
// final tabulation commits together with the status change.
func (s *Service) Recompute(ctx context.Context, inst *models.Instance) (*models.Tabulation, error) {
	eligible, err := s.eligible.CountEligible(ctx, inst)
	if err != nil {
		return nil, err
	}
	return s.recompute(ctx, inst, eligible)
}

func (s *Service) recompute(ctx context.Context, inst *models.Instance, eligible int64) (*models.Tabulation, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "tabulation.Recompute", trace.WithAttributes(
		attribute.String("voting.id", inst.ID.String()),
	))
	defer span.End()

	for attempt := 1; attempt <= s.retries; attempt++ {
		tab, err := s.attempt(ctx, inst, eligible)
		if err == nil {
			s.metrics.ObserveTabulation(start)
			span.SetAttributes(attribute.Int64("tabulation.version", tab.Version))
			ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.Event{
				Action:   string(audit.EventResultsComputed),
				VotingID: inst.ID,
			}, "version", tab.Version, "total_votes", tab.Summary.TotalVotes, "voided", tab.Summary.Voided)
			return tab, nil
		}
		if !errors.Is(err, sentinel.ErrConflict) {
			span.SetStatus(codes.Error, err.Error())
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to tabulate results")
		}
		s.metrics.IncTabulationConflict()
		if s.logger != nil {
			s.logger.DebugContext(ctx, "tabulation version conflict, retrying",
				"voting_id", inst.ID,
				"attempt", attempt,
			)
		}
	}
	span.SetStatus(codes.Error, "version conflict")
	return nil, dErrors.New(dErrors.CodeComputationConflict, "results changed concurrently; retry later")
}

func (s *Service) attempt(ctx context.Context, inst *models.Instance, eligible int64) (*models.Tabulation, error) {
	// Both reads may run on the caller transaction's single connection.
	var version int64
	current, err := s.results.Current(ctx, inst.ID)
	switch {
	case err == nil:
		version = current.Version
	case !errors.Is(err, sentinel.ErrNotFound):
		return nil, fmt.Errorf("load current results: %w", err)
	}
	ballots, err := s.ballots.ListCurrent(ctx, inst.ID)
	if err != nil {
		return nil, fmt.Errorf("list ballots: %w", err)
	}

	tab := Compute(Input{
		Instance: inst,
		Ballots:  ballots,
		Eligible: eligible,
		Now:      requestcontext.Now(ctx),
	})
	if err := s.results.Replace(ctx, tab, version); err != nil {
		return nil, err
	}
	if err := s.instances.UpdateCounters(ctx, inst.ID, tab.Summary.Counters()); err != nil {
		return nil, fmt.Errorf("update counters: %w", err)
	}
	return tab, nil
}

// TabulateMany recomputes several votings with at most parallelism running
// at once. It stops at the first failure.
func (s *Service) TabulateMany(ctx context.Context, votingIDs []id.VotingID, parallelism int) error {
	g, gctx := errgroup.WithContext(ctx)
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}
	for _, votingID := range votingIDs {
		g.Go(func() error {
			if _, err := s.Tabulate(gctx, votingID); err != nil {
				return fmt.Errorf("tabulate %s: %w", votingID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Results returns the stored tabulation of votingID.
func (s *Service) Results(ctx context.Context, votingID id.VotingID) (*models.Tabulation, error) {
	tab, err := s.results.Current(ctx, votingID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "results have not been computed yet")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load results")
	}
	return tab, nil
}

func (s *Service) load(ctx context.Context, votingID id.VotingID) (*models.Instance, error) {
	inst, err := s.instances.Get(ctx, votingID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "voting not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load voting")
	}
	return inst, nil
}
