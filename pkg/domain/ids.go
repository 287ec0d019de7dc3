// Package domain holds typed identifiers shared across modules.
//
// Each identifier is a distinct named UUID type so the compiler rejects
// passing a MemberID where a VotingID is expected.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "unionvote/pkg/domain-errors"
)

type (
	VotingID uuid.UUID
	OptionID uuid.UUID
	MemberID uuid.UUID
	BallotID uuid.UUID
)

func parseUUID(kind, raw string) (uuid.UUID, error) {
	if strings.TrimSpace(raw) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	return parsed, nil
}

func ParseVotingID(raw string) (VotingID, error) {
	u, err := parseUUID("voting_id", raw)
	return VotingID(u), err
}

func ParseOptionID(raw string) (OptionID, error) {
	u, err := parseUUID("option_id", raw)
	return OptionID(u), err
}

func ParseMemberID(raw string) (MemberID, error) {
	u, err := parseUUID("member_id", raw)
	return MemberID(u), err
}

func ParseBallotID(raw string) (BallotID, error) {
	u, err := parseUUID("ballot_id", raw)
	return BallotID(u), err
}

func NewVotingID() VotingID { return VotingID(uuid.New()) }
func NewOptionID() OptionID { return OptionID(uuid.New()) }
func NewMemberID() MemberID { return MemberID(uuid.New()) }
func NewBallotID() BallotID { return BallotID(uuid.New()) }

func (id VotingID) String() string { return uuid.UUID(id).String() }
func (id OptionID) String() string { return uuid.UUID(id).String() }
func (id MemberID) String() string { return uuid.UUID(id).String() }
func (id BallotID) String() string { return uuid.UUID(id).String() }

func (id VotingID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id OptionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id MemberID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id BallotID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id VotingID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id OptionID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id MemberID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id BallotID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *VotingID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *OptionID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *MemberID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *BallotID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
