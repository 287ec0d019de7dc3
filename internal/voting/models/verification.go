package models

import id "unionvote/pkg/domain"

// VerificationRequest is a step-up challenge answer submitted with a ballot.
// Evidence is opaque to the voting core: a password, a biometric sample
// reference, or a WebAuthn assertion.
type VerificationRequest struct {
	MemberID id.MemberID
	Method   VerificationMethod
	Evidence string
}

// VerificationResult is what the oracle reports. Digest is the only form of
// the evidence that may be persisted.
type VerificationResult struct {
	Verified      bool
	Method        VerificationMethod
	Confidence    *float64
	Digest        string
	FailureReason string
}

// Proof is the verification outcome attached to a ballot.
type Proof struct {
	Method     VerificationMethod
	Digest     string
	Confidence *float64
}

// NoProof is attached when no step-up was required or submitted.
var NoProof = Proof{Method: VerificationNone}
