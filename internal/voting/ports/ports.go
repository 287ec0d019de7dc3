//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks MemberDirectory,VerificationOracle,EventPublisher,AuditPublisher

// Package ports defines the voting core's boundaries with collaborators
// outside this module.
package ports

import (
	"context"
	"log/slog"

	membermodels "unionvote/internal/member/models"
	"unionvote/internal/voting/events"
	"unionvote/internal/voting/models"
	id "unionvote/pkg/domain"
	"unionvote/pkg/platform/audit"
	"unionvote/pkg/requestcontext"
)

// MemberDirectory is the read-only member lookup owned by the membership system.
// GetMember returns sentinel.ErrNotFound for unknown members.
type MemberDirectory interface {
	GetMember(ctx context.Context, memberID id.MemberID) (*membermodels.Member, error)
	ListActive(ctx context.Context) ([]membermodels.Member, error)
}

// VerificationOracle checks step-up evidence. Implementations must honor
// ctx cancellation; a returned error means the oracle could not decide.
type VerificationOracle interface {
	Verify(ctx context.Context, req models.VerificationRequest) (*models.VerificationResult, error)
}

// EventPublisher hands lifecycle events to the notification system.
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// AuditPublisher emits audit events for ballot and lifecycle actions.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// LogAudit logs an audit event and forwards it to the publisher when present.
// Publisher failures are logged, never returned.
func LogAudit(ctx context.Context, logger *slog.Logger, publisher AuditPublisher, event audit.Event, attrs ...any) {
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if logger != nil {
		args := append(attrs,
			"event", event.Action,
			"voting_id", event.VotingID,
			"request_id", event.RequestID,
			"log_type", "audit",
		)
		logger.InfoContext(ctx, event.Action, args...)
	}
	if publisher == nil {
		return
	}
	if err := publisher.Emit(ctx, event); err != nil && logger != nil {
		logger.WarnContext(ctx, "failed to emit audit event", "event", event.Action, "error", err)
	}
}
