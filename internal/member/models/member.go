package models

import (
	"slices"
	"strings"

	id "unionvote/pkg/domain"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Member is the voting core's read-only view of a union member.
type Member struct {
	ID         id.MemberID
	Name       string
	Roles      []string
	Department string
	Status     Status
	// PasswordHash is a bcrypt or argon2id PHC hash used for step-up checks.
	PasswordHash string
}

func (m *Member) IsActive() bool { return m.Status == StatusActive }

// HasRole compares case-insensitively.
func (m *Member) HasRole(role string) bool {
	return slices.ContainsFunc(m.Roles, func(r string) bool {
		return strings.EqualFold(r, role)
	})
}

func (m *Member) InDepartment(department string) bool {
	return m.Department != "" && strings.EqualFold(m.Department, department)
}
