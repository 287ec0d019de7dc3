// Package events carries voting lifecycle notifications to the external
// notifier. The voting core emits structured payloads only; formatting and
// delivery belong to the consumer.
package events

import (
	"time"

	"unionvote/internal/voting/models"
	id "unionvote/pkg/domain"
)

type Type string

const (
	TypeVotingScheduled  Type = "voting_scheduled"
	TypeVotingActivated  Type = "voting_activated"
	TypeVotingPaused     Type = "voting_paused"
	TypeVotingResumed    Type = "voting_resumed"
	TypeVotingEnded      Type = "voting_ended"
	TypeVotingCancelled  Type = "voting_cancelled"
	TypeResultsPublished Type = "results_published"
)

// Summary is the event payload. Result fields are set only for
// voting_ended, voting_cancelled and results_published.
type Summary struct {
	Title             string            `json:"title"`
	Status            models.Status     `json:"status"`
	Reason            string            `json:"reason,omitempty"`
	TotalVotes        int64             `json:"total_votes,omitempty"`
	TotalParticipants int64             `json:"total_participants,omitempty"`
	ParticipationRate models.Percentage `json:"participation_rate,omitempty"`
	QuorumReached     *bool             `json:"quorum_reached,omitempty"`
	Winners           []id.OptionID     `json:"winners,omitempty"`
	IsTie             bool              `json:"is_tie,omitempty"`
	Voided            bool              `json:"voided,omitempty"`
}

type Event struct {
	ID         string      `json:"id"`
	InstanceID id.VotingID `json:"instance_id"`
	Type       Type        `json:"event_type"`
	Timestamp  time.Time   `json:"timestamp"`
	Summary    Summary     `json:"summary"`
}

// ForTransition builds the event for a lifecycle change of inst.
func ForTransition(eventID string, t Type, inst *models.Instance, now time.Time) Event {
	return Event{
		ID:         eventID,
		InstanceID: inst.ID,
		Type:       t,
		Timestamp:  now,
		Summary: Summary{
			Title:  inst.Title,
			Status: inst.Status,
			Reason: inst.CancelReason,
		},
	}
}

// WithResults copies the headline numbers of a tabulation into the summary.
func (e Event) WithResults(tab *models.Tabulation) Event {
	if tab == nil {
		return e
	}
	reached := tab.Summary.QuorumReached
	e.Summary.TotalVotes = tab.Summary.TotalVotes
	e.Summary.TotalParticipants = tab.Summary.TotalBallots
	e.Summary.ParticipationRate = tab.Summary.ParticipationRate
	e.Summary.QuorumReached = &reached
	e.Summary.Winners = append([]id.OptionID(nil), tab.Summary.Winners...)
	e.Summary.IsTie = tab.Summary.IsTie
	e.Summary.Voided = tab.Summary.Voided
	return e
}
