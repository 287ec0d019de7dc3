package models

import (
	"time"

	id "unionvote/pkg/domain"
	"unionvote/pkg/platform/privacy"
)

// Ballot is one member's recorded vote. It is immutable after insert except
// for supersession (vote change) and anonymization.
type Ballot struct {
	ID       id.BallotID `json:"id"`
	VotingID id.VotingID `json:"voting_id"`
	// VoterKey is the uniqueness key: the member ID, or for secret votings an
	// opaque token that cannot be reversed to the member.
	VoterKey string `json:"-"`
	// MemberID is nil for secret votings and after anonymization.
	MemberID     *id.MemberID `json:"member_id,omitempty"`
	Selection    Selection    `json:"-"`
	IsAbstention bool         `json:"is_abstention"`

	VerificationMethod     VerificationMethod `json:"verification_method"`
	VerificationDigest     string             `json:"-"`
	VerificationConfidence *float64           `json:"verification_confidence,omitempty"`

	IPHash string `json:"-"`
	Device string `json:"-"`

	CastAt       time.Time  `json:"cast_at"`
	SupersededAt *time.Time `json:"superseded_at,omitempty"`
	AnonymizedAt *time.Time `json:"anonymized_at,omitempty"`
}

func (b *Ballot) IsCurrent() bool { return b.SupersededAt == nil }

func (b *Ballot) IsAnonymized() bool { return b.AnonymizedAt != nil }

// Anonymize strips identifying metadata. For secret votings the member
// reference is dropped too; the voter key stays for duplicate prevention.
func (b *Ballot) Anonymize(dropMember bool, now time.Time) {
	b.IPHash = ""
	b.Device = ""
	if dropMember {
		b.MemberID = nil
	}
	if b.AnonymizedAt == nil {
		t := now
		b.AnonymizedAt = &t
	}
}

// BallotCounts summarizes the current ballot set of an instance.
type BallotCounts struct {
	Total       int64
	Abstentions int64
}

func (c BallotCounts) NonAbstention() int64 { return c.Total - c.Abstentions }

// VoterKey derives the uniqueness key for a member's ballot. Secret votings
// use a keyed hash bound to the instance so the key cannot be joined across
// votings or reversed without the secret.
func VoterKey(secret string, inst *Instance, memberID id.MemberID) string {
	if !inst.Policy.IsSecret {
		return memberID.String()
	}
	return "t:" + privacy.Digest(secret, inst.ID.String(), memberID.String())
}
