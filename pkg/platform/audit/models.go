package audit

import (
	"time"

	id "unionvote/pkg/domain"
)

// EventCategory classifies audit events by their retention and routing needs.
type EventCategory string

const (
	// CategoryCompliance covers events that must survive for the election record:
	// ballots cast, lifecycle transitions, published results.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers verification failures, lockouts and rejected casts.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine reads and sweeper activity.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	VotingID  id.VotingID
	// Subject is the member ID for attributable actions. Secret ballot casts
	// leave it empty so the audit trail cannot re-link a voter to a choice.
	Subject   string
	Action    string
	Decision  string
	Reason    string
	RequestID string
	// ActorID tracks an administrator acting on an instance.
	ActorID string
	// IPHash is the salted hash of the client IP, never the raw address.
	IPHash string
}

type AuditEvent string

const (
	// Ballot events
	EventBallotCast        AuditEvent = "ballot_cast"
	EventBallotChanged     AuditEvent = "ballot_changed"
	EventBallotRejected    AuditEvent = "ballot_rejected"
	EventBallotsAnonymized AuditEvent = "ballots_anonymized"

	// Eligibility and verification
	EventEligibilityDenied     AuditEvent = "eligibility_denied"
	EventVerificationFailed    AuditEvent = "verification_failed"
	EventVerificationLocked    AuditEvent = "verification_locked"
	EventVerificationSucceeded AuditEvent = "verification_succeeded"

	// Lifecycle events
	EventVotingCreated     AuditEvent = "voting_created"
	EventVotingUpdated     AuditEvent = "voting_updated"
	EventVotingScheduled   AuditEvent = "voting_scheduled"
	EventVotingActivated   AuditEvent = "voting_activated"
	EventVotingPaused      AuditEvent = "voting_paused"
	EventVotingResumed     AuditEvent = "voting_resumed"
	EventVotingEnded       AuditEvent = "voting_ended"
	EventVotingCancelled   AuditEvent = "voting_cancelled"
	EventOptionDeactivated AuditEvent = "option_deactivated"

	// Results
	EventResultsComputed AuditEvent = "results_computed"
	EventResultsViewed   AuditEvent = "results_viewed"

	EventSweepCompleted AuditEvent = "sweep_completed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventBallotCast:        CategoryCompliance,
	EventBallotChanged:     CategoryCompliance,
	EventBallotsAnonymized: CategoryCompliance,
	EventVotingCreated:     CategoryCompliance,
	EventVotingScheduled:   CategoryCompliance,
	EventVotingActivated:   CategoryCompliance,
	EventVotingPaused:      CategoryCompliance,
	EventVotingResumed:     CategoryCompliance,
	EventVotingEnded:       CategoryCompliance,
	EventVotingCancelled:   CategoryCompliance,
	EventOptionDeactivated: CategoryCompliance,
	EventResultsComputed:   CategoryCompliance,

	EventBallotRejected:        CategorySecurity,
	EventEligibilityDenied:     CategorySecurity,
	EventVerificationFailed:    CategorySecurity,
	EventVerificationLocked:    CategorySecurity,
	EventVerificationSucceeded: CategorySecurity,

	EventVotingUpdated:  CategoryOperations,
	EventResultsViewed:  CategoryOperations,
	EventSweepCompleted: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}
