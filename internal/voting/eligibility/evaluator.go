// Package eligibility decides whether a member may cast a ballot.
//
// Evaluate is a pure function over the instance, the member and whether the
// member already holds a current ballot. Callers that insert ballots must call
// it again inside the same transaction as the insert.
package eligibility

import (
	"slices"

	membermodels "unionvote/internal/member/models"
	"unionvote/internal/voting/models"
	id "unionvote/pkg/domain"
	dErrors "unionvote/pkg/domain-errors"
)

// Reason names the first rule a member failed.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonNotActive    Reason = "not_active"
	ReasonAlreadyVoted Reason = "already_voted"
	ReasonNotEligible  Reason = "not_eligible"
	ReasonExcluded     Reason = "excluded"
)

type Decision struct {
	Eligible bool   `json:"eligible"`
	Reason   Reason `json:"reason,omitempty"`
}

func allow() Decision        { return Decision{Eligible: true} }
func deny(r Reason) Decision { return Decision{Reason: r} }

// Err maps a negative decision onto the error taxonomy. Eligible decisions
// return nil.
func (d Decision) Err() error {
	switch d.Reason {
	case ReasonNone:
		return nil
	case ReasonNotActive:
		return dErrors.New(dErrors.CodeNotActive, "voting is not open for ballots")
	case ReasonAlreadyVoted:
		return dErrors.New(dErrors.CodeAlreadyVoted, "member has already voted")
	case ReasonExcluded:
		return dErrors.New(dErrors.CodeExcluded, "member is excluded from this voting")
	default:
		return dErrors.New(dErrors.CodeNotEligible, "member is not eligible for this voting")
	}
}

// Evaluate applies the rules in order; the first failure wins:
//  1. the instance must be active
//  2. no current ballot unless vote change is allowed
//  3. an inactive member is never eligible; for non-public visibility the
//     member must match the allow list, a role or a department
//  4. the member must not be on the deny list
func Evaluate(inst *models.Instance, member *membermodels.Member, hasVoted bool) Decision {
	if inst.Status != models.StatusActive {
		return deny(ReasonNotActive)
	}
	if hasVoted && !inst.Policy.AllowVoteChange {
		return deny(ReasonAlreadyVoted)
	}
	return evaluateMembership(inst, member)
}

// InUniverse reports whether the member counts toward total_eligible,
// independent of instance status and prior ballots.
func InUniverse(inst *models.Instance, member *membermodels.Member) bool {
	return evaluateMembership(inst, member).Eligible
}

func evaluateMembership(inst *models.Instance, member *membermodels.Member) Decision {
	if member == nil || !member.IsActive() {
		return deny(ReasonNotEligible)
	}
	if !matchesVisibility(inst, member) {
		return deny(ReasonNotEligible)
	}
	if slices.Contains(inst.Criteria.DenyMemberIDs, member.ID) {
		return deny(ReasonExcluded)
	}
	return allow()
}

func matchesVisibility(inst *models.Instance, member *membermodels.Member) bool {
	c := inst.Criteria
	switch inst.Visibility {
	case models.VisibilityPublic:
		return true
	case models.VisibilityMembersOnly:
		// No criteria means every active member.
		if c.IsEmpty() {
			return true
		}
		return matchesCriteria(c, member, nil)
	case models.VisibilityBoardOnly:
		return matchesCriteria(c, member, []string{models.RoleBoard})
	default:
		return matchesCriteria(c, member, nil)
	}
}

func matchesCriteria(c models.Criteria, member *membermodels.Member, extraRoles []string) bool {
	if containsMember(c.AllowMemberIDs, member.ID) {
		return true
	}
	for _, role := range slices.Concat(c.Roles, extraRoles) {
		if member.HasRole(role) {
			return true
		}
	}
	for _, dept := range c.Departments {
		if member.InDepartment(dept) {
			return true
		}
	}
	return false
}

func containsMember(ids []id.MemberID, memberID id.MemberID) bool {
	return slices.Contains(ids, memberID)
}
