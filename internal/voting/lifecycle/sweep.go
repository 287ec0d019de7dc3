package lifecycle

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"unionvote/internal/voting/models"
	"unionvote/internal/voting/ports"
	id "unionvote/pkg/domain"
	dErrors "unionvote/pkg/domain-errors"
	"unionvote/pkg/platform/audit"
	"unionvote/pkg/requestcontext"
)

// ReasonWindowElapsed cancels a scheduled voting whose whole window passed
// before a sweep could start it.
const ReasonWindowElapsed = "voting window elapsed before it could start"

// SweepReport counts what one sweep did.
type SweepReport struct {
	Activated int64 `json:"activated"`
	Closed    int64 `json:"closed"`
	Cancelled int64 `json:"cancelled"`
	Failed    int64 `json:"failed"`
}

// Sweep starts scheduled instances whose start time has passed and closes
// instances past their end time, as of now. One instance failing does not
// stop the others; failures are logged and counted.
func (s *Service) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	start := time.Now()
	defer s.metrics.ObserveSweep(start)

	due, err := s.instances.ListDue(ctx, now)
	if err != nil {
		return SweepReport{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list due votings")
	}

	ctx = requestcontext.WithTime(ctx, now)
	var activated, closed, cancelled, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.sweepLimit)
	for _, votingID := range due {
		g.Go(func() error {
			outcome, err := s.sweepOne(ctx, votingID, now)
			switch {
			case err != nil:
				failed.Add(1)
				if s.logger != nil {
					s.logger.WarnContext(ctx, "sweep transition failed", "voting_id", votingID, "error", err)
				}
			case outcome == models.StatusActive:
				activated.Add(1)
			case outcome == models.StatusEnded:
				closed.Add(1)
			case outcome == models.StatusCancelled:
				cancelled.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	report := SweepReport{
		Activated: activated.Load(),
		Closed:    closed.Load(),
		Cancelled: cancelled.Load(),
		Failed:    failed.Load(),
	}
	ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.Event{
		Action: string(audit.EventSweepCompleted),
	}, "due", len(due), "activated", report.Activated, "closed", report.Closed,
		"cancelled", report.Cancelled, "failed", report.Failed)
	return report, nil
}

// sweepOne re-reads the instance since another sweep or an administrator
// may have moved it after ListDue. Guards inside the transitions make a
// stale decision fail with InvalidTransition instead of applying twice.
func (s *Service) sweepOne(ctx context.Context, votingID id.VotingID, now time.Time) (models.Status, error) {
	inst, err := s.load(ctx, votingID)
	if err != nil {
		return "", err
	}
	switch {
	case inst.DueToStart(now) && inst.EndsAt != nil && !now.Before(*inst.EndsAt):
		_, _, err = s.Cancel(ctx, votingID, ReasonWindowElapsed)
		return models.StatusCancelled, err
	case inst.DueToStart(now):
		_, err = s.Activate(ctx, votingID, false)
		return models.StatusActive, err
	case inst.DueToEnd(now):
		_, _, err = s.Close(ctx, votingID)
		return models.StatusEnded, err
	}
	return "", nil
}

// Sweeper runs Sweep on a fixed interval.
type Sweeper struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
}

func NewSweeper(service *Service, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{service: service, interval: interval, logger: logger}
}

// Run sweeps until ctx is cancelled. A failed sweep is logged and retried
// on the next tick.
func (w *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			report, err := w.service.Sweep(ctx, time.Now())
			if err != nil && w.logger != nil {
				w.logger.ErrorContext(ctx, "lifecycle sweep failed", "error", err)
				continue
			}
			if w.logger != nil && report != (SweepReport{}) {
				w.logger.InfoContext(ctx, "lifecycle sweep",
					"activated", report.Activated,
					"closed", report.Closed,
					"cancelled", report.Cancelled,
					"failed", report.Failed,
				)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
