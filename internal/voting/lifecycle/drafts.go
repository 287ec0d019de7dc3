package lifecycle

import (
	"context"
	"strings"
	"time"

	"unionvote/internal/voting/models"
	"unionvote/internal/voting/ports"
	"unionvote/internal/voting/store/txrunner"
	id "unionvote/pkg/domain"
	dErrors "unionvote/pkg/domain-errors"
	"unionvote/pkg/platform/audit"
	"unionvote/pkg/platform/sentinel"
	"unionvote/pkg/requestcontext"
)

// OptionInput describes one option of a draft. ID is optional; when it
// matches an existing option of the draft that option keeps its identity.
type OptionInput struct {
	ID          id.OptionID
	Title       string
	Description string
	SortOrder   int
}

type CreateCommand struct {
	Title           string
	Description     string
	Type            models.VotingType
	Visibility      models.Visibility
	Criteria        models.Criteria
	Quorum          models.QuorumPolicy
	Policy          models.BallotPolicy
	ResultsMode     models.ResultsMode
	RankedMethod    models.RankedMethod
	ConfidenceLevel int
	Options         []OptionInput
	StartsAt        *time.Time
	EndsAt          *time.Time
	CreatedBy       string
}

// DraftUpdate changes a draft. Nil fields are left alone; Options, when
// set, replaces the whole option list.
type DraftUpdate struct {
	Title           *string
	Description     *string
	Visibility      *models.Visibility
	Criteria        *models.Criteria
	Quorum          *models.QuorumPolicy
	Policy          *models.BallotPolicy
	ResultsMode     *models.ResultsMode
	RankedMethod    *models.RankedMethod
	ConfidenceLevel *int
	Options         *[]OptionInput
	StartsAt        *time.Time
	EndsAt          *time.Time
}

// Create stores a new draft instance.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*models.Instance, error) {
	now := requestcontext.Now(ctx)
	inst := &models.Instance{
		ID:              id.NewVotingID(),
		Title:           strings.TrimSpace(cmd.Title),
		Description:     cmd.Description,
		Type:            cmd.Type,
		Status:          models.StatusDraft,
		Visibility:      cmd.Visibility,
		Criteria:        cmd.Criteria,
		Quorum:          cmd.Quorum,
		Policy:          cmd.Policy,
		ResultsMode:     cmd.ResultsMode,
		RankedMethod:    cmd.RankedMethod,
		ConfidenceLevel: cmd.ConfidenceLevel,
		StartsAt:        cmd.StartsAt,
		EndsAt:          cmd.EndsAt,
		CreatedBy:       cmd.CreatedBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	inst.Options = buildOptions(inst, cmd.Options)
	s.applyDefaults(inst)
	if err := inst.Validate(); err != nil {
		return nil, err
	}

	if err := s.instances.Create(ctx, inst); err != nil {
		if dErrors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "voting already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create voting")
	}
	ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.Event{
		Action:   string(audit.EventVotingCreated),
		VotingID: inst.ID,
		Subject:  inst.CreatedBy,
	}, "type", inst.Type, "options", len(inst.Options))
	return inst, nil
}

// UpdateDraft edits an instance that has not left draft.
func (s *Service) UpdateDraft(ctx context.Context, votingID id.VotingID, upd DraftUpdate) (*models.Instance, error) {
	now := requestcontext.Now(ctx)
	var inst *models.Instance
	err := s.tx.RunInTx(ctx, votingID, txrunner.Exclusive, func(ctx context.Context) error {
		var err error
		inst, err = s.load(ctx, votingID)
		if err != nil {
			return err
		}
		if err := inst.CanEdit(); err != nil {
			return err
		}
		upd.apply(inst)
		s.applyDefaults(inst)
		if err := inst.Validate(); err != nil {
			return err
		}
		inst.UpdatedAt = now
		if err := s.instances.Update(ctx, inst); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save voting")
		}
		ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.Event{
			Action:   string(audit.EventVotingUpdated),
			VotingID: inst.ID,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inst, nil
}

func (u DraftUpdate) apply(inst *models.Instance) {
	if u.Title != nil {
		inst.Title = strings.TrimSpace(*u.Title)
	}
	if u.Description != nil {
		inst.Description = *u.Description
	}
	if u.Visibility != nil {
		inst.Visibility = *u.Visibility
	}
	if u.Criteria != nil {
		inst.Criteria = *u.Criteria
	}
	if u.Quorum != nil {
		inst.Quorum = *u.Quorum
	}
	if u.Policy != nil {
		inst.Policy = *u.Policy
	}
	if u.ResultsMode != nil {
		inst.ResultsMode = *u.ResultsMode
	}
	if u.RankedMethod != nil {
		inst.RankedMethod = *u.RankedMethod
	}
	if u.ConfidenceLevel != nil {
		inst.ConfidenceLevel = *u.ConfidenceLevel
	}
	if u.Options != nil {
		inst.Options = buildOptions(inst, *u.Options)
	}
	if u.StartsAt != nil {
		t := *u.StartsAt
		inst.StartsAt = &t
	}
	if u.EndsAt != nil {
		t := *u.EndsAt
		inst.EndsAt = &t
	}
}

// buildOptions keeps IDs of options that already belong to inst and numbers
// options without a sort order by position.
func buildOptions(inst *models.Instance, inputs []OptionInput) []models.Option {
	out := make([]models.Option, 0, len(inputs))
	for i, in := range inputs {
		optionID := in.ID
		active := true
		if existing, ok := inst.Option(optionID); optionID.IsNil() || !ok {
			optionID = id.NewOptionID()
		} else {
			active = existing.IsActive
		}
		order := in.SortOrder
		if order == 0 {
			order = i + 1
		}
		out = append(out, models.Option{
			ID:          optionID,
			VotingID:    inst.ID,
			Title:       strings.TrimSpace(in.Title),
			Description: in.Description,
			SortOrder:   order,
			IsActive:    active,
		})
	}
	return out
}

func (s *Service) applyDefaults(inst *models.Instance) {
	if inst.Visibility == "" {
		inst.Visibility = s.defaultVisibility
	}
	if inst.ResultsMode == "" {
		inst.ResultsMode = models.ResultsOnClose
	}
	if inst.ConfidenceLevel == 0 {
		inst.ConfidenceLevel = models.Confidence95
	}
	if inst.Type == models.TypeRanked && inst.RankedMethod == "" {
		inst.RankedMethod = models.RankedFirstPreference
	}
	if inst.Policy.MaxVotesPerUser == 0 {
		switch inst.Type {
		case models.TypeMultiple, models.TypeApproval:
			inst.Policy.MaxVotesPerUser = max(len(inst.Options), 1)
		default:
			inst.Policy.MaxVotesPerUser = 1
		}
	}
}
