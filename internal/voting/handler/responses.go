package handler

import (
	"time"

	"unionvote/internal/voting/eligibility"
	"unionvote/internal/voting/lifecycle"
	"unionvote/internal/voting/models"
	id "unionvote/pkg/domain"
)

// MemberVotingResponse is a voting as members see it: no audience lists
// and no administrative fields.
type MemberVotingResponse struct {
	ID            id.VotingID         `json:"id"`
	Title         string              `json:"title"`
	Description   string              `json:"description,omitempty"`
	Type          models.VotingType   `json:"type"`
	Status        models.Status       `json:"status"`
	Visibility    models.Visibility   `json:"visibility"`
	ResultsMode   models.ResultsMode  `json:"results_mode"`
	RankedMethod  models.RankedMethod `json:"ranked_method,omitempty"`
	Quorum        models.QuorumPolicy `json:"quorum"`
	Policy        models.BallotPolicy `json:"policy"`
	Options       []OptionResponse    `json:"options"`
	Counters      models.Counters     `json:"counters"`
	StartsAt      *time.Time          `json:"starts_at,omitempty"`
	EndsAt        *time.Time          `json:"ends_at,omitempty"`
	ActualStartAt *time.Time          `json:"actual_start_at,omitempty"`
	ActualEndAt   *time.Time          `json:"actual_end_at,omitempty"`
	CancelReason  string              `json:"cancel_reason,omitempty"`
}

type OptionResponse struct {
	ID          id.OptionID `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	SortOrder   int         `json:"sort_order"`
	IsActive    bool        `json:"is_active"`
}

func toMemberVoting(inst *models.Instance) MemberVotingResponse {
	options := make([]OptionResponse, 0, len(inst.Options))
	for _, o := range inst.Options {
		options = append(options, OptionResponse{
			ID:          o.ID,
			Title:       o.Title,
			Description: o.Description,
			SortOrder:   o.SortOrder,
			IsActive:    o.IsActive,
		})
	}
	return MemberVotingResponse{
		ID:            inst.ID,
		Title:         inst.Title,
		Description:   inst.Description,
		Type:          inst.Type,
		Status:        inst.Status,
		Visibility:    inst.Visibility,
		ResultsMode:   inst.ResultsMode,
		RankedMethod:  inst.RankedMethod,
		Quorum:        inst.Quorum,
		Policy:        inst.Policy,
		Options:       options,
		Counters:      inst.Counters,
		StartsAt:      inst.StartsAt,
		EndsAt:        inst.EndsAt,
		ActualStartAt: inst.ActualStartAt,
		ActualEndAt:   inst.ActualEndAt,
		CancelReason:  inst.CancelReason,
	}
}

type VotingListResponse[T any] struct {
	Votings []T `json:"votings"`
	Count   int `json:"count"`
}

// BallotReceipt confirms a recorded ballot without echoing the selection.
type BallotReceipt struct {
	BallotID           id.BallotID               `json:"ballot_id"`
	VotingID           id.VotingID               `json:"voting_id"`
	IsAbstention       bool                      `json:"is_abstention"`
	VerificationMethod models.VerificationMethod `json:"verification_method"`
	CastAt             time.Time                 `json:"cast_at"`
}

func toReceipt(b *models.Ballot) BallotReceipt {
	return BallotReceipt{
		BallotID:           b.ID,
		VotingID:           b.VotingID,
		IsAbstention:       b.IsAbstention,
		VerificationMethod: b.VerificationMethod,
		CastAt:             b.CastAt,
	}
}

type EligibilityResponse struct {
	VotingID id.VotingID        `json:"voting_id"`
	Eligible bool               `json:"eligible"`
	Reason   eligibility.Reason `json:"reason,omitempty"`
}

type StatisticsResponse struct {
	VotingID    id.VotingID     `json:"voting_id"`
	Status      models.Status   `json:"status"`
	Counters    models.Counters `json:"counters"`
	Summary     *models.Summary `json:"summary,omitempty"`
	ActualStart *time.Time      `json:"actual_start_at,omitempty"`
	ActualEnd   *time.Time      `json:"actual_end_at,omitempty"`
}

// TransitionResponse is returned by close and cancel.
type TransitionResponse struct {
	Voting  *models.Instance   `json:"voting"`
	Results *models.Tabulation `json:"results,omitempty"`
}

type AnonymizeResponse struct {
	VotingID   id.VotingID `json:"voting_id"`
	Anonymized int64       `json:"anonymized"`
}

type SweepResponse struct {
	lifecycle.SweepReport
	SweptAt time.Time `json:"swept_at"`
}
