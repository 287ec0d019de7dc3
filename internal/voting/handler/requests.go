package handler

import (
	"fmt"
	"strings"
	"time"

	"unionvote/internal/voting/lifecycle"
	"unionvote/internal/voting/models"
	id "unionvote/pkg/domain"
	dErrors "unionvote/pkg/domain-errors"
)

const (
	maxOptions       = 100
	maxCriteriaItems = 500
)

type OptionRequest struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	SortOrder   int    `json:"sort_order,omitempty"`
}

type CriteriaRequest struct {
	Roles          []string `json:"roles,omitempty"`
	Departments    []string `json:"departments,omitempty"`
	AllowMemberIDs []string `json:"allow_member_ids,omitempty"`
	DenyMemberIDs  []string `json:"deny_member_ids,omitempty"`
}

type QuorumRequest struct {
	Required   bool              `json:"requires_quorum"`
	Percentage models.Percentage `json:"quorum_percentage"`
}

type PolicyRequest struct {
	AllowAbstention   bool `json:"allow_abstention"`
	AllowVoteChange   bool `json:"allow_vote_change"`
	IsAnonymous       bool `json:"is_anonymous"`
	IsSecret          bool `json:"is_secret"`
	RequiresBiometric bool `json:"requires_biometric"`
	RequiresReauth    bool `json:"requires_reauth"`
	MaxVotesPerUser   int  `json:"max_votes_per_user,omitempty"`
}

func (p PolicyRequest) model() models.BallotPolicy {
	return models.BallotPolicy(p)
}

// CreateVotingRequest is the body of POST /admin/votings.
type CreateVotingRequest struct {
	Title           string           `json:"title"`
	Description     string           `json:"description,omitempty"`
	Type            string           `json:"type"`
	Visibility      string           `json:"visibility,omitempty"`
	Criteria        *CriteriaRequest `json:"criteria,omitempty"`
	Quorum          QuorumRequest    `json:"quorum"`
	Policy          PolicyRequest    `json:"policy"`
	ResultsMode     string           `json:"results_mode,omitempty"`
	RankedMethod    string           `json:"ranked_method,omitempty"`
	ConfidenceLevel int              `json:"confidence_level,omitempty"`
	Options         []OptionRequest  `json:"options"`
	StartsAt        *time.Time       `json:"starts_at,omitempty"`
	EndsAt          *time.Time       `json:"ends_at,omitempty"`

	command lifecycle.CreateCommand
}

func (r *CreateVotingRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Options) > maxOptions {
		return dErrors.New(dErrors.CodeValidation, "too many options")
	}
	r.Title = strings.TrimSpace(r.Title)
	if r.Title == "" {
		return dErrors.New(dErrors.CodeValidation, "title is required")
	}
	votingType := models.VotingType(strings.TrimSpace(r.Type))
	if !votingType.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "type must be one of simple, multiple, ranked, approval")
	}
	criteria, err := r.Criteria.model()
	if err != nil {
		return err
	}
	options, err := parseOptions(r.Options)
	if err != nil {
		return err
	}
	r.command = lifecycle.CreateCommand{
		Title:           r.Title,
		Description:     r.Description,
		Type:            votingType,
		Visibility:      models.Visibility(r.Visibility),
		Criteria:        criteria,
		Quorum:          models.QuorumPolicy(r.Quorum),
		Policy:          r.Policy.model(),
		ResultsMode:     models.ResultsMode(r.ResultsMode),
		RankedMethod:    models.RankedMethod(r.RankedMethod),
		ConfidenceLevel: r.ConfidenceLevel,
		Options:         options,
		StartsAt:        r.StartsAt,
		EndsAt:          r.EndsAt,
	}
	return nil
}

// Command returns the validated create command.
func (r *CreateVotingRequest) Command() lifecycle.CreateCommand { return r.command }

// UpdateVotingRequest is the body of PATCH /admin/votings/{votingID}.
// Omitted fields are unchanged.
type UpdateVotingRequest struct {
	Title           *string          `json:"title,omitempty"`
	Description     *string          `json:"description,omitempty"`
	Visibility      *string          `json:"visibility,omitempty"`
	Criteria        *CriteriaRequest `json:"criteria,omitempty"`
	Quorum          *QuorumRequest   `json:"quorum,omitempty"`
	Policy          *PolicyRequest   `json:"policy,omitempty"`
	ResultsMode     *string          `json:"results_mode,omitempty"`
	RankedMethod    *string          `json:"ranked_method,omitempty"`
	ConfidenceLevel *int             `json:"confidence_level,omitempty"`
	Options         *[]OptionRequest `json:"options,omitempty"`
	StartsAt        *time.Time       `json:"starts_at,omitempty"`
	EndsAt          *time.Time       `json:"ends_at,omitempty"`

	update lifecycle.DraftUpdate
}

func (r *UpdateVotingRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	u := lifecycle.DraftUpdate{
		Title:           r.Title,
		Description:     r.Description,
		ConfidenceLevel: r.ConfidenceLevel,
		StartsAt:        r.StartsAt,
		EndsAt:          r.EndsAt,
	}
	if r.Visibility != nil {
		v := models.Visibility(*r.Visibility)
		u.Visibility = &v
	}
	if r.Criteria != nil {
		c, err := r.Criteria.model()
		if err != nil {
			return err
		}
		u.Criteria = &c
	}
	if r.Quorum != nil {
		q := models.QuorumPolicy(*r.Quorum)
		u.Quorum = &q
	}
	if r.Policy != nil {
		p := r.Policy.model()
		u.Policy = &p
	}
	if r.ResultsMode != nil {
		m := models.ResultsMode(*r.ResultsMode)
		u.ResultsMode = &m
	}
	if r.RankedMethod != nil {
		m := models.RankedMethod(*r.RankedMethod)
		u.RankedMethod = &m
	}
	if r.Options != nil {
		if len(*r.Options) > maxOptions {
			return dErrors.New(dErrors.CodeValidation, "too many options")
		}
		options, err := parseOptions(*r.Options)
		if err != nil {
			return err
		}
		u.Options = &options
	}
	r.update = u
	return nil
}

func (r *UpdateVotingRequest) Update() lifecycle.DraftUpdate { return r.update }

type StartRequest struct {
	Override bool `json:"override"`
}

func (r *StartRequest) Validate() error { return nil }

type CancelRequest struct {
	Reason string `json:"reason"`
}

func (r *CancelRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Reason = strings.TrimSpace(r.Reason)
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	if len(r.Reason) > 1000 {
		return dErrors.New(dErrors.CodeValidation, "reason must be 1000 characters or less")
	}
	return nil
}

type RankingRequest struct {
	OptionID string `json:"option_id"`
	Rank     int    `json:"rank"`
}

type VerificationRequest struct {
	Method   string `json:"method"`
	Evidence string `json:"evidence"`
}

// CastBallotRequest carries exactly one of option_id, option_ids, rankings
// or abstain. Which one is expected depends on the voting type.
type CastBallotRequest struct {
	OptionID     string               `json:"option_id,omitempty"`
	OptionIDs    []string             `json:"option_ids,omitempty"`
	Rankings     []RankingRequest     `json:"rankings,omitempty"`
	Abstain      bool                 `json:"abstain,omitempty"`
	Verification *VerificationRequest `json:"verification,omitempty"`

	single   id.OptionID
	multi    []id.OptionID
	rankings []models.RankedChoice
}

func (r *CastBallotRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	forms := 0
	for _, set := range []bool{r.OptionID != "", r.OptionIDs != nil, r.Rankings != nil, r.Abstain} {
		if set {
			forms++
		}
	}
	if forms > 1 {
		return dErrors.New(dErrors.CodeInvalidSelection, "send only one of option_id, option_ids, rankings or abstain")
	}
	if len(r.OptionIDs) > maxOptions || len(r.Rankings) > maxOptions {
		return dErrors.New(dErrors.CodeInvalidSelection, "too many options selected")
	}
	if r.OptionID != "" {
		optionID, err := id.ParseOptionID(r.OptionID)
		if err != nil {
			return dErrors.New(dErrors.CodeInvalidSelection, "invalid option_id")
		}
		r.single = optionID
	}
	for _, raw := range r.OptionIDs {
		optionID, err := id.ParseOptionID(raw)
		if err != nil {
			return dErrors.New(dErrors.CodeInvalidSelection, "invalid option id in option_ids")
		}
		r.multi = append(r.multi, optionID)
	}
	for _, rk := range r.Rankings {
		optionID, err := id.ParseOptionID(rk.OptionID)
		if err != nil {
			return dErrors.New(dErrors.CodeInvalidSelection, "invalid option id in rankings")
		}
		r.rankings = append(r.rankings, models.RankedChoice{Option: optionID, Rank: rk.Rank})
	}
	if r.Verification != nil {
		r.Verification.Method = strings.TrimSpace(r.Verification.Method)
		if len(r.Verification.Evidence) > 64<<10 {
			return dErrors.New(dErrors.CodeValidation, "verification evidence is too large")
		}
	}
	return nil
}

// Selection shapes the request for a voting of type t. Only an explicit
// abstain yields a nil selection; a missing form or the form of another
// voting type is rejected.
func (r *CastBallotRequest) Selection(t models.VotingType) (models.Selection, error) {
	if r.Abstain {
		return nil, nil
	}
	switch t {
	case models.TypeSimple:
		if r.OptionID != "" {
			return models.Single{Option: r.single}, nil
		}
		return nil, selectionFormError(t, "option_id")
	case models.TypeMultiple:
		if r.OptionIDs != nil {
			return models.Multiple{Options: r.multi}, nil
		}
		return nil, selectionFormError(t, "option_ids")
	case models.TypeApproval:
		if r.OptionIDs != nil {
			return models.Approval{Options: r.multi}, nil
		}
		return nil, selectionFormError(t, "option_ids")
	case models.TypeRanked:
		if r.Rankings != nil {
			return models.NewRanked(r.rankings), nil
		}
		return nil, selectionFormError(t, "rankings")
	}
	return nil, dErrors.New(dErrors.CodeInvalidSelection, fmt.Sprintf("unsupported voting type %q", t))
}

func selectionFormError(t models.VotingType, field string) error {
	return dErrors.New(dErrors.CodeInvalidSelection,
		fmt.Sprintf("a %s voting takes %s, or abstain", t, field))
}

func (r *CastBallotRequest) VerificationRequest() *models.VerificationRequest {
	if r.Verification == nil || r.Verification.Method == "" {
		return nil
	}
	return &models.VerificationRequest{
		Method:   models.VerificationMethod(r.Verification.Method),
		Evidence: r.Verification.Evidence,
	}
}

func (c *CriteriaRequest) model() (models.Criteria, error) {
	if c == nil {
		return models.Criteria{}, nil
	}
	if len(c.Roles)+len(c.Departments)+len(c.AllowMemberIDs)+len(c.DenyMemberIDs) > maxCriteriaItems {
		return models.Criteria{}, dErrors.New(dErrors.CodeValidation, "too many criteria entries")
	}
	allow, err := parseMemberIDs(c.AllowMemberIDs)
	if err != nil {
		return models.Criteria{}, err
	}
	deny, err := parseMemberIDs(c.DenyMemberIDs)
	if err != nil {
		return models.Criteria{}, err
	}
	return models.Criteria{
		Roles:          trimAll(c.Roles),
		Departments:    trimAll(c.Departments),
		AllowMemberIDs: allow,
		DenyMemberIDs:  deny,
	}, nil
}

func parseOptions(in []OptionRequest) ([]lifecycle.OptionInput, error) {
	out := make([]lifecycle.OptionInput, 0, len(in))
	for _, o := range in {
		var optionID id.OptionID
		if o.ID != "" {
			parsed, err := id.ParseOptionID(o.ID)
			if err != nil {
				return nil, err
			}
			optionID = parsed
		}
		out = append(out, lifecycle.OptionInput{
			ID:          optionID,
			Title:       o.Title,
			Description: o.Description,
			SortOrder:   o.SortOrder,
		})
	}
	return out, nil
}

func parseMemberIDs(raw []string) ([]id.MemberID, error) {
	out := make([]id.MemberID, 0, len(raw))
	for _, s := range raw {
		memberID, err := id.ParseMemberID(s)
		if err != nil {
			return nil, err
		}
		out = append(out, memberID)
	}
	return out, nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
