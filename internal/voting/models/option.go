package models

import (
	"strings"

	id "unionvote/pkg/domain"
	dErrors "unionvote/pkg/domain-errors"
)

// Option belongs to exactly one instance. Deactivation hides an option from
// new ballots; it is still tallied.
type Option struct {
	ID          id.OptionID `json:"id"`
	VotingID    id.VotingID `json:"voting_id"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	SortOrder   int         `json:"sort_order"`
	IsActive    bool        `json:"is_active"`
}

func (o Option) Validate() error {
	if o.ID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "option id is required")
	}
	if strings.TrimSpace(o.Title) == "" {
		return dErrors.New(dErrors.CodeValidation, "option title is required")
	}
	if len(o.Title) > MaxTitleLength {
		return dErrors.New(dErrors.CodeValidation, "option title must be 200 characters or less")
	}
	return nil
}
