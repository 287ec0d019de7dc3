package models

// VotingType fixes the shape of a ballot's selection.
type VotingType string

const (
	TypeSimple   VotingType = "simple"
	TypeMultiple VotingType = "multiple"
	TypeRanked   VotingType = "ranked"
	TypeApproval VotingType = "approval"
)

func (t VotingType) IsValid() bool {
	switch t {
	case TypeSimple, TypeMultiple, TypeRanked, TypeApproval:
		return true
	}
	return false
}

type Visibility string

const (
	VisibilityPublic      Visibility = "public"
	VisibilityMembersOnly Visibility = "members_only"
	VisibilityBoardOnly   Visibility = "board_only"
	VisibilityCustom      Visibility = "custom"
)

// RoleBoard is implied by board_only visibility.
const RoleBoard = "board"

func (v Visibility) IsValid() bool {
	switch v {
	case VisibilityPublic, VisibilityMembersOnly, VisibilityBoardOnly, VisibilityCustom:
		return true
	}
	return false
}

// ResultsMode decides when tabulation runs.
type ResultsMode string

const (
	ResultsRealtime ResultsMode = "realtime"
	ResultsOnClose  ResultsMode = "on_close"
)

func (m ResultsMode) IsValid() bool {
	return m == ResultsRealtime || m == ResultsOnClose
}

// RankedMethod selects how ranked ballots are counted.
type RankedMethod string

const (
	RankedFirstPreference RankedMethod = "first_preference"
	RankedInstantRunoff   RankedMethod = "instant_runoff"
)

func (m RankedMethod) IsValid() bool {
	return m == RankedFirstPreference || m == RankedInstantRunoff
}

type VerificationMethod string

const (
	VerificationNone      VerificationMethod = "none"
	VerificationPassword  VerificationMethod = "password"
	VerificationBiometric VerificationMethod = "biometric"
	VerificationSMS       VerificationMethod = "sms"
)

func (m VerificationMethod) IsValid() bool {
	switch m {
	case VerificationNone, VerificationPassword, VerificationBiometric, VerificationSMS:
		return true
	}
	return false
}

// Confidence levels supported by the interval computation.
const (
	Confidence95 = 95
	Confidence99 = 99
)

// MinSampleForInterval is the smallest ballot count for which a confidence
// interval is reported.
const MinSampleForInterval = 30
