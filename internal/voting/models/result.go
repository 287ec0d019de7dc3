package models

import (
	"time"

	id "unionvote/pkg/domain"
)

// Counting methods reported in Statistics.Method and Summary.Method.
const (
	MethodPlurality       = "plurality"
	MethodMultipleChoice  = "multiple_choice"
	MethodApproval        = "approval"
	MethodFirstPreference = "first_preference"
	MethodInstantRunoff   = "instant_runoff"
)

// Interval is a confidence interval in percentage points, clamped to [0, 100].
type Interval struct {
	Lower Percentage `json:"lower"`
	Upper Percentage `json:"upper"`
}

// Statistics is the per-option statistical_data payload.
type Statistics struct {
	Method string `json:"method"`
	// VotesMeaning states what votes_count counts; it differs for instant runoff.
	VotesMeaning       string      `json:"votes_meaning"`
	ConfidenceLevel    int         `json:"confidence_level,omitempty"`
	MarginOfError      *Percentage `json:"margin_of_error,omitempty"`
	ConfidenceInterval *Interval   `json:"confidence_interval,omitempty"`
	// EliminatedInRound is set for options knocked out by instant runoff.
	EliminatedInRound int `json:"eliminated_in_round,omitempty"`
}

// ResultSnapshot is one option's computed result.
type ResultSnapshot struct {
	VotingID        id.VotingID `json:"voting_id"`
	OptionID        id.OptionID `json:"option_id"`
	OptionTitle     string      `json:"option_title"`
	SortOrder       int         `json:"sort_order"`
	VotesCount      int64       `json:"votes_count"`
	Percentage      Percentage  `json:"percentage"`
	RankingPosition int         `json:"ranking_position"`
	IsWinner        bool        `json:"is_winner"`
	MarginOfVictory Percentage  `json:"margin_of_victory"`
	Statistics      Statistics  `json:"statistical_data"`
	CalculatedAt    time.Time   `json:"calculated_at"`
}

// RunoffRound records the tallies of one instant-runoff round.
type RunoffRound struct {
	Round      int                   `json:"round"`
	Counts     map[id.OptionID]int64 `json:"counts"`
	Exhausted  int64                 `json:"exhausted"`
	Eliminated []id.OptionID         `json:"eliminated,omitempty"`
}

// Summary is the instance-level part of a tabulation.
type Summary struct {
	Method            string        `json:"method"`
	TotalBallots      int64         `json:"total_ballots"`
	TotalAbstentions  int64         `json:"total_abstentions"`
	TotalVotes        int64         `json:"total_votes"`
	TotalEligible     int64         `json:"total_eligible"`
	ParticipationRate Percentage    `json:"participation_rate"`
	QuorumRequired    bool          `json:"requires_quorum"`
	QuorumPercentage  Percentage    `json:"quorum_percentage"`
	QuorumReached     bool          `json:"quorum_reached"`
	IsTie             bool          `json:"is_tie"`
	Winners           []id.OptionID `json:"winners"`
	Voided            bool          `json:"voided"`
	Rounds            []RunoffRound `json:"rounds,omitempty"`
	CalculatedAt      time.Time     `json:"calculated_at"`
}

// Tabulation is a complete, immutable result set for one instance.
type Tabulation struct {
	VotingID id.VotingID      `json:"voting_id"`
	Version  int64            `json:"version"`
	Summary  Summary          `json:"summary"`
	Results  []ResultSnapshot `json:"results"`
}

// Counters projects the summary onto the instance's cached counters.
func (s Summary) Counters() Counters {
	return Counters{
		TotalVotes:        s.TotalVotes,
		TotalParticipants: s.TotalBallots,
		ParticipationRate: s.ParticipationRate,
		QuorumReached:     s.QuorumReached,
	}
}
