// Package lifecycle drives voting instances through their state machine.
//
// Every transition loads the instance under its exclusive lock, checks the
// guard on models.Instance, applies it and persists. Closing and cancelling
// run the final tabulation inside the same lock so results and status commit
// together. Notification events are published only after the change is
// durable.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"unionvote/internal/voting/events"
	"unionvote/internal/voting/metrics"
	"unionvote/internal/voting/models"
	"unionvote/internal/voting/ports"
	"unionvote/internal/voting/store/instance"
	"unionvote/internal/voting/store/txrunner"
	id "unionvote/pkg/domain"
	dErrors "unionvote/pkg/domain-errors"
	"unionvote/pkg/platform/audit"
	"unionvote/pkg/platform/sentinel"
	"unionvote/pkg/requestcontext"
)

type InstanceStore interface {
	Create(ctx context.Context, inst *models.Instance) error
	Get(ctx context.Context, votingID id.VotingID) (*models.Instance, error)
	Update(ctx context.Context, inst *models.Instance) error
	List(ctx context.Context, filter instance.ListFilter) ([]*models.Instance, error)
	ListDue(ctx context.Context, now time.Time) ([]id.VotingID, error)
}

// BallotAnonymizer strips identifying metadata from stored ballots.
type BallotAnonymizer interface {
	AnonymizeAll(ctx context.Context, votingID id.VotingID, dropMember bool, now time.Time) (int64, error)
}

// Tabulator computes and stores results. The caller holds the exclusive lock.
type Tabulator interface {
	Recompute(ctx context.Context, inst *models.Instance) (*models.Tabulation, error)
}

type TxRunner interface {
	RunInTx(ctx context.Context, votingID id.VotingID, mode txrunner.Mode, fn func(ctx context.Context) error) error
}

type Service struct {
	instances         InstanceStore
	ballots           BallotAnonymizer
	tabulator         Tabulator
	tx                TxRunner
	publisher         ports.EventPublisher
	logger            *slog.Logger
	auditPublisher    ports.AuditPublisher
	metrics           *metrics.Metrics
	tracer            trace.Tracer
	sweepLimit        int
	defaultVisibility models.Visibility
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

// WithEventPublisher sets where lifecycle notifications go.
func WithEventPublisher(publisher ports.EventPublisher) Option {
	return func(s *Service) {
		s.publisher = publisher
	}
}

// WithSweepParallelism bounds how many instances one sweep transitions at once.
func WithSweepParallelism(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.sweepLimit = n
		}
	}
}

func New(instances InstanceStore, ballots BallotAnonymizer, tabulator Tabulator, tx TxRunner, opts ...Option) (*Service, error) {
	if instances == nil || ballots == nil {
		return nil, errors.New("lifecycle: instance and ballot stores are required")
	}
	if tabulator == nil || tx == nil {
		return nil, errors.New("lifecycle: tabulator and tx runner are required")
	}
	s := &Service{
		instances:         instances,
		ballots:           ballots,
		tabulator:         tabulator,
		tx:                tx,
		tracer:            otel.Tracer("unionvote/voting/lifecycle"),
		sweepLimit:        4,
		defaultVisibility: models.VisibilityMembersOnly,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Get returns one instance.
func (s *Service) Get(ctx context.Context, votingID id.VotingID) (*models.Instance, error) {
	return s.load(ctx, votingID)
}

// List returns instances newest first, optionally restricted to statuses.
func (s *Service) List(ctx context.Context, statuses ...models.Status) ([]*models.Instance, error) {
	for _, st := range statuses {
		if !st.IsValid() {
			return nil, dErrors.New(dErrors.CodeValidation, "unknown status filter: "+string(st))
		}
	}
	list, err := s.instances.List(ctx, instance.ListFilter{Statuses: statuses})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list votings")
	}
	return list, nil
}

// step is one guarded transition.
type step struct {
	name  string
	to    models.Status
	event events.Type
	audit audit.AuditEvent
	check func(inst *models.Instance, now time.Time) error
	apply func(inst *models.Instance, now time.Time)
	// final runs the closing tabulation before the status is persisted.
	final bool
}

func (s *Service) Schedule(ctx context.Context, votingID id.VotingID) (*models.Instance, error) {
	inst, _, err := s.transition(ctx, votingID, step{
		name:  "schedule",
		to:    models.StatusScheduled,
		event: events.TypeVotingScheduled,
		audit: audit.EventVotingScheduled,
		check: func(inst *models.Instance, now time.Time) error { return inst.CanSchedule(now) },
		apply: func(inst *models.Instance, now time.Time) { inst.ApplySchedule(now) },
	})
	return inst, err
}

// Activate opens the instance for ballots. override lets an administrator
// start before starts_at.
func (s *Service) Activate(ctx context.Context, votingID id.VotingID, override bool) (*models.Instance, error) {
	inst, _, err := s.transition(ctx, votingID, step{
		name:  "activate",
		to:    models.StatusActive,
		event: events.TypeVotingActivated,
		audit: audit.EventVotingActivated,
		check: func(inst *models.Instance, now time.Time) error { return inst.CanActivate(now, override) },
		apply: func(inst *models.Instance, now time.Time) { inst.ApplyActivate(now) },
	})
	return inst, err
}

func (s *Service) Pause(ctx context.Context, votingID id.VotingID) (*models.Instance, error) {
	inst, _, err := s.transition(ctx, votingID, step{
		name:  "pause",
		to:    models.StatusPaused,
		event: events.TypeVotingPaused,
		audit: audit.EventVotingPaused,
		check: func(inst *models.Instance, _ time.Time) error { return inst.CanPause() },
		apply: func(inst *models.Instance, now time.Time) { inst.ApplyPause(now) },
	})
	return inst, err
}

func (s *Service) Resume(ctx context.Context, votingID id.VotingID) (*models.Instance, error) {
	inst, _, err := s.transition(ctx, votingID, step{
		name:  "resume",
		to:    models.StatusActive,
		event: events.TypeVotingResumed,
		audit: audit.EventVotingResumed,
		check: func(inst *models.Instance, now time.Time) error { return inst.CanResume(now) },
		apply: func(inst *models.Instance, now time.Time) { inst.ApplyResume(now) },
	})
	return inst, err
}

// Close ends the instance and returns its final results. Missing quorum
// does not block closing; it is recorded in the results.
func (s *Service) Close(ctx context.Context, votingID id.VotingID) (*models.Instance, *models.Tabulation, error) {
	return s.transition(ctx, votingID, step{
		name:  "close",
		to:    models.StatusEnded,
		event: events.TypeVotingEnded,
		audit: audit.EventVotingEnded,
		check: func(inst *models.Instance, _ time.Time) error { return inst.CanClose() },
		apply: func(inst *models.Instance, now time.Time) { inst.ApplyClose(now) },
		final: true,
	})
}

// Cancel terminates the instance. Ballots are kept; the snapshot computed
// here is flagged voided.
func (s *Service) Cancel(ctx context.Context, votingID id.VotingID, reason string) (*models.Instance, *models.Tabulation, error) {
	return s.transition(ctx, votingID, step{
		name:  "cancel",
		to:    models.StatusCancelled,
		event: events.TypeVotingCancelled,
		audit: audit.EventVotingCancelled,
		check: func(inst *models.Instance, _ time.Time) error { return inst.CanCancel(reason) },
		apply: func(inst *models.Instance, now time.Time) { inst.ApplyCancel(reason, now) },
		final: true,
	})
}

func (s *Service) transition(ctx context.Context, votingID id.VotingID, st step) (*models.Instance, *models.Tabulation, error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle."+st.name, trace.WithAttributes(
		attribute.String("voting.id", votingID.String()),
	))
	defer span.End()

	now := requestcontext.Now(ctx)
	var (
		inst *models.Instance
		tab  *models.Tabulation
	)
	err := s.tx.RunInTx(ctx, votingID, txrunner.Exclusive, func(ctx context.Context) error {
		var err error
		inst, err = s.load(ctx, votingID)
		if err != nil {
			return err
		}
		from := inst.Status
		if err := st.check(inst, now); err != nil {
			return err
		}
		st.apply(inst, now)

		if st.final {
			tab, err = s.tabulator.Recompute(ctx, inst)
			if err != nil {
				return err
			}
			inst.Counters = tab.Summary.Counters()
		}
		if err := s.instances.Update(ctx, inst); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save voting")
		}
		if st.to == models.StatusEnded && inst.Policy.IsAnonymous {
			if _, err := s.anonymize(ctx, inst, now); err != nil {
				return err
			}
		}

		ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.Event{
			Action:   string(st.audit),
			VotingID: inst.ID,
			Decision: string(st.to),
			Reason:   inst.CancelReason,
		}, "from", from)
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		return nil, nil, err
	}

	s.metrics.IncTransition(string(st.to))
	s.publish(ctx, events.ForTransition(uuid.NewString(), st.event, inst, now).WithResults(tab))
	if st.to == models.StatusEnded {
		s.publish(ctx, events.ForTransition(uuid.NewString(), events.TypeResultsPublished, inst, now).WithResults(tab))
	}
	return inst, tab, nil
}

// DeactivateOption withdraws an option from new ballots. Existing ballots
// for it stay in the tally.
func (s *Service) DeactivateOption(ctx context.Context, votingID id.VotingID, optionID id.OptionID) (*models.Instance, error) {
	now := requestcontext.Now(ctx)
	var inst *models.Instance
	err := s.tx.RunInTx(ctx, votingID, txrunner.Exclusive, func(ctx context.Context) error {
		var err error
		inst, err = s.load(ctx, votingID)
		if err != nil {
			return err
		}
		if err := inst.CanDeactivateOption(optionID); err != nil {
			return err
		}
		inst.ApplyDeactivateOption(optionID, now)
		if err := s.instances.Update(ctx, inst); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save voting")
		}
		ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.Event{
			Action:   string(audit.EventOptionDeactivated),
			VotingID: inst.ID,
		}, "option_id", optionID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// Anonymize strips IP hashes and device labels from every ballot of a
// finished instance.
func (s *Service) Anonymize(ctx context.Context, votingID id.VotingID) (int64, error) {
	now := requestcontext.Now(ctx)
	var n int64
	err := s.tx.RunInTx(ctx, votingID, txrunner.Exclusive, func(ctx context.Context) error {
		inst, err := s.load(ctx, votingID)
		if err != nil {
			return err
		}
		if !inst.Status.IsTerminal() {
			return dErrors.New(dErrors.CodeInvalidTransition, "ballots can only be anonymized after the voting has finished")
		}
		n, err = s.anonymize(ctx, inst, now)
		return err
	})
	return n, err
}

func (s *Service) anonymize(ctx context.Context, inst *models.Instance, now time.Time) (int64, error) {
	n, err := s.ballots.AnonymizeAll(ctx, inst.ID, inst.Policy.IsSecret, now)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to anonymize ballots")
	}
	ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.Event{
		Action:   string(audit.EventBallotsAnonymized),
		VotingID: inst.ID,
	}, "ballots", n)
	return n, nil
}

// publish never fails the transition; the change is already committed.
func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to publish voting event",
			"event_type", event.Type,
			"voting_id", event.InstanceID,
			"error", err,
		)
	}
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
