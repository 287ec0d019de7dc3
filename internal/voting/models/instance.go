package models

import (
	"strings"
	"time"

	id "unionvote/pkg/domain"
	dErrors "unionvote/pkg/domain-errors"
)

const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 5000
	MinActiveOptions     = 2
)

// Criteria restricts who may vote in a non-public instance. A member passes
// when listed in AllowMemberIDs or holding one of Roles or belonging to one of
// Departments. DenyMemberIDs always wins.
type Criteria struct {
	Roles          []string      `json:"roles,omitempty"`
	Departments    []string      `json:"departments,omitempty"`
	AllowMemberIDs []id.MemberID `json:"allow_member_ids,omitempty"`
	DenyMemberIDs  []id.MemberID `json:"deny_member_ids,omitempty"`
}

func (c Criteria) IsEmpty() bool {
	return len(c.Roles) == 0 && len(c.Departments) == 0 && len(c.AllowMemberIDs) == 0
}

type QuorumPolicy struct {
	Required   bool       `json:"requires_quorum"`
	Percentage Percentage `json:"quorum_percentage"`
}

type BallotPolicy struct {
	AllowAbstention   bool `json:"allow_abstention"`
	AllowVoteChange   bool `json:"allow_vote_change"`
	IsAnonymous       bool `json:"is_anonymous"`
	IsSecret          bool `json:"is_secret"`
	RequiresBiometric bool `json:"requires_biometric"`
	RequiresReauth    bool `json:"requires_reauth"`
	MaxVotesPerUser   int  `json:"max_votes_per_user"`
}

// Counters are a cache derived from the ballot set. They are never the
// source of truth for results.
type Counters struct {
	TotalVotes        int64      `json:"total_votes"`
	TotalParticipants int64      `json:"total_participants"`
	ParticipationRate Percentage `json:"participation_rate"`
	QuorumReached     bool       `json:"quorum_reached"`
}

// Instance is one voting round.
//
// Invariants:
//   - EndsAt is after StartsAt when both are set
//   - Status only moves along the edges in status.go
//   - Options are frozen once the instance leaves draft
type Instance struct {
	ID              id.VotingID  `json:"id"`
	Title           string       `json:"title"`
	Description     string       `json:"description"`
	Type            VotingType   `json:"type"`
	Status          Status       `json:"status"`
	Visibility      Visibility   `json:"visibility"`
	Criteria        Criteria     `json:"criteria"`
	Quorum          QuorumPolicy `json:"quorum"`
	Policy          BallotPolicy `json:"policy"`
	ResultsMode     ResultsMode  `json:"results_mode"`
	RankedMethod    RankedMethod `json:"ranked_method,omitempty"`
	ConfidenceLevel int          `json:"confidence_level"`
	Options         []Option     `json:"options"`
	Counters        Counters     `json:"counters"`

	StartsAt      *time.Time `json:"starts_at,omitempty"`
	EndsAt        *time.Time `json:"ends_at,omitempty"`
	ActualStartAt *time.Time `json:"actual_start_at,omitempty"`
	ActualEndAt   *time.Time `json:"actual_end_at,omitempty"`

	CancelReason string    `json:"cancel_reason,omitempty"`
	CreatedBy    string    `json:"created_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Validate checks the static shape of an instance: everything that does not
// depend on the clock or on the lifecycle.
func (v *Instance) Validate() error {
	title := strings.TrimSpace(v.Title)
	if title == "" {
		return dErrors.New(dErrors.CodeValidation, "title is required")
	}
	if len(title) > MaxTitleLength {
		return dErrors.New(dErrors.CodeValidation, "title must be 200 characters or less")
	}
	if len(v.Description) > MaxDescriptionLength {
		return dErrors.New(dErrors.CodeValidation, "description is too long")
	}
	if !v.Type.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "type must be one of simple, multiple, ranked, approval")
	}
	if !v.Visibility.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "visibility must be one of public, members_only, board_only, custom")
	}
	if v.Visibility == VisibilityCustom && v.Criteria.IsEmpty() {
		return dErrors.New(dErrors.CodeValidation, "custom visibility requires at least one criterion")
	}
	if !v.ResultsMode.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "results_mode must be realtime or on_close")
	}
	if v.Type == TypeRanked && !v.RankedMethod.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "ranked_method must be first_preference or instant_runoff")
	}
	if v.ConfidenceLevel != Confidence95 && v.ConfidenceLevel != Confidence99 {
		return dErrors.New(dErrors.CodeValidation, "confidence_level must be 95 or 99")
	}
	if v.Quorum.Percentage < PercentZero || v.Quorum.Percentage > PercentHundred {
		return dErrors.New(dErrors.CodeValidation, "quorum_percentage must be between 0 and 100")
	}
	if v.Type == TypeMultiple && v.Policy.MaxVotesPerUser < 1 {
		return dErrors.New(dErrors.CodeValidation, "max_votes_per_user must be at least 1 for multiple choice")
	}
	if v.StartsAt != nil && v.EndsAt != nil && !v.EndsAt.After(*v.StartsAt) {
		return dErrors.New(dErrors.CodeValidation, "ends_at must be after starts_at")
	}

	seenOrder := make(map[int]struct{}, len(v.Options))
	seenID := make(map[id.OptionID]struct{}, len(v.Options))
	for _, opt := range v.Options {
		if err := opt.Validate(); err != nil {
			return err
		}
		if _, dup := seenOrder[opt.SortOrder]; dup {
			return dErrors.New(dErrors.CodeValidation, "option sort_order must be unique")
		}
		if _, dup := seenID[opt.ID]; dup {
			return dErrors.New(dErrors.CodeValidation, "option ids must be unique")
		}
		seenOrder[opt.SortOrder] = struct{}{}
		seenID[opt.ID] = struct{}{}
	}
	return nil
}

// Option returns the option with the given ID, active or not.
func (v *Instance) Option(optionID id.OptionID) (Option, bool) {
	for _, opt := range v.Options {
		if opt.ID == optionID {
			return opt, true
		}
	}
	return Option{}, false
}

// ActiveOptionCount counts options that accept new ballots.
func (v *Instance) ActiveOptionCount() int {
	n := 0
	for _, opt := range v.Options {
		if opt.IsActive {
			n++
		}
	}
	return n
}

func (v *Instance) IsActive() bool { return v.Status == StatusActive }

// VoidsResults reports whether snapshots for this instance are unofficial.
func (v *Instance) VoidsResults() bool { return v.Status == StatusCancelled }

func (v *Instance) transitionError(to Status) error {
	return dErrors.New(dErrors.CodeInvalidTransition, "cannot move voting from "+string(v.Status)+" to "+string(to))
}

// CanSchedule checks draft -> scheduled: at least two options and a future start.
func (v *Instance) CanSchedule(now time.Time) error {
	if !v.Status.CanTransitionTo(StatusScheduled) {
		return v.transitionError(StatusScheduled)
	}
	if len(v.Options) < MinActiveOptions {
		return dErrors.New(dErrors.CodeInvalidTransition, "at least two options are required to schedule")
	}
	if v.StartsAt == nil || !v.StartsAt.After(now) {
		return dErrors.New(dErrors.CodeInvalidTransition, "starts_at must be in the future to schedule")
	}
	return nil
}

func (v *Instance) ApplySchedule(now time.Time) {
	v.Status = StatusScheduled
	v.UpdatedAt = now
}

// CanActivate checks draft/scheduled -> active. Without override the start
// time must have passed.
func (v *Instance) CanActivate(now time.Time, override bool) error {
	if v.Status != StatusDraft && v.Status != StatusScheduled {
		return v.transitionError(StatusActive)
	}
	if v.ActiveOptionCount() < MinActiveOptions {
		return dErrors.New(dErrors.CodeInvalidTransition, "at least two active options are required to start")
	}
	if !override {
		if v.StartsAt == nil {
			return dErrors.New(dErrors.CodeInvalidTransition, "starts_at is not set; a manual override is required")
		}
		if now.Before(*v.StartsAt) {
			return dErrors.New(dErrors.CodeInvalidTransition, "voting has not reached its start time")
		}
	}
	if v.EndsAt != nil && !now.Before(*v.EndsAt) {
		return dErrors.New(dErrors.CodeInvalidTransition, "voting window has already closed")
	}
	return nil
}

func (v *Instance) ApplyActivate(now time.Time) {
	v.Status = StatusActive
	t := now
	v.ActualStartAt = &t
	v.UpdatedAt = now
}

func (v *Instance) CanPause() error {
	if v.Status != StatusActive {
		return v.transitionError(StatusPaused)
	}
	return nil
}

func (v *Instance) ApplyPause(now time.Time) {
	v.Status = StatusPaused
	v.UpdatedAt = now
}

func (v *Instance) CanResume(now time.Time) error {
	if v.Status != StatusPaused {
		return v.transitionError(StatusActive)
	}
	if v.EndsAt != nil && !now.Before(*v.EndsAt) {
		return dErrors.New(dErrors.CodeInvalidTransition, "voting window has already closed")
	}
	return nil
}

func (v *Instance) ApplyResume(now time.Time) {
	v.Status = StatusActive
	v.UpdatedAt = now
}

// CanClose checks active/paused -> ended. Quorum never blocks closing.
func (v *Instance) CanClose() error {
	if !v.Status.CanTransitionTo(StatusEnded) {
		return v.transitionError(StatusEnded)
	}
	return nil
}

func (v *Instance) ApplyClose(now time.Time) {
	v.Status = StatusEnded
	t := now
	v.ActualEndAt = &t
	v.UpdatedAt = now
}

func (v *Instance) CanCancel(reason string) error {
	if !v.Status.CanTransitionTo(StatusCancelled) {
		return v.transitionError(StatusCancelled)
	}
	if strings.TrimSpace(reason) == "" {
		return dErrors.New(dErrors.CodeValidation, "a cancellation reason is required")
	}
	return nil
}

func (v *Instance) ApplyCancel(reason string, now time.Time) {
	v.Status = StatusCancelled
	v.CancelReason = strings.TrimSpace(reason)
	if v.ActualEndAt == nil {
		t := now
		v.ActualEndAt = &t
	}
	v.UpdatedAt = now
}

// CanEdit guards title, description, option and policy changes.
func (v *Instance) CanEdit() error {
	if !v.Status.IsEditable() {
		return dErrors.New(dErrors.CodeInvalidTransition, "voting can only be edited while in draft")
	}
	return nil
}

// CanDeactivateOption guards withdrawing an option from new ballots. Once
// the instance has left draft at least one active option must remain.
func (v *Instance) CanDeactivateOption(optionID id.OptionID) error {
	if v.Status.IsTerminal() {
		return dErrors.New(dErrors.CodeInvalidTransition, "options of a finished voting cannot change")
	}
	opt, ok := v.Option(optionID)
	if !ok {
		return dErrors.New(dErrors.CodeNotFound, "option does not belong to this voting")
	}
	if !opt.IsActive {
		return dErrors.New(dErrors.CodeConflict, "option is already inactive")
	}
	if v.Status != StatusDraft && v.ActiveOptionCount() <= 1 {
		return dErrors.New(dErrors.CodeInvalidTransition, "the last active option cannot be deactivated")
	}
	return nil
}

// ApplyDeactivateOption marks the option inactive. Ballots already cast
// for it keep counting.
func (v *Instance) ApplyDeactivateOption(optionID id.OptionID, now time.Time) {
	for i := range v.Options {
		if v.Options[i].ID == optionID {
			v.Options[i].IsActive = false
		}
	}
	v.UpdatedAt = now
}

// DueToStart reports whether a sweep should activate the instance.
func (v *Instance) DueToStart(now time.Time) bool {
	return v.Status == StatusScheduled && v.StartsAt != nil && !now.Before(*v.StartsAt)
}

// DueToEnd reports whether a sweep should close the instance.
func (v *Instance) DueToEnd(now time.Time) bool {
	return (v.Status == StatusActive || v.Status == StatusPaused) && v.EndsAt != nil && !now.Before(*v.EndsAt)
}

// Clone returns a deep copy safe to hand to another goroutine.
func (v *Instance) Clone() *Instance {
	if v == nil {
		return nil
	}
	c := *v
	c.Options = append([]Option(nil), v.Options...)
	c.Criteria = Criteria{
		Roles:          append([]string(nil), v.Criteria.Roles...),
		Departments:    append([]string(nil), v.Criteria.Departments...),
		AllowMemberIDs: append([]id.MemberID(nil), v.Criteria.AllowMemberIDs...),
		DenyMemberIDs:  append([]id.MemberID(nil), v.Criteria.DenyMemberIDs...),
	}
	c.StartsAt = cloneTime(v.StartsAt)
	c.EndsAt = cloneTime(v.EndsAt)
	c.ActualStartAt = cloneTime(v.ActualStartAt)
	c.ActualEndAt = cloneTime(v.ActualEndAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
