package verification

import (
	"context"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	membermodels "unionvote/internal/member/models"
	"unionvote/internal/voting/models"
	"unionvote/internal/voting/ports/mocks"
	"unionvote/internal/voting/verification/credentials"
	id "unionvote/pkg/domain"
	dErrors "unionvote/pkg/domain-errors"
)

func newPasskeyOracle(t *testing.T, dir *mocks.MockMemberDirectory, store CredentialStore) *PasskeyOracle {
	t.Helper()
	o, err := NewPasskeyOracle(PasskeyConfig{
		RPID:          "vote.example.org",
		RPDisplayName: "Union Voting",
		RPOrigins:     []string{"https://vote.example.org"},
	}, dir, store)
	require.NoError(t, err)
	return o
}

func TestPasskeyVerifyWithoutChallenge(t *testing.T) {
	ctrl := gomock.NewController(t)
	o := newPasskeyOracle(t, mocks.NewMockMemberDirectory(ctrl), credentials.NewInMemoryStore())

	res, err := o.Verify(context.Background(), models.VerificationRequest{
		MemberID: id.NewMemberID(), Method: models.VerificationBiometric, Evidence: "{}",
	})
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.Equal(t, "no_challenge", res.FailureReason)
}

func TestPasskeyChallengeNeedsRegisteredCredential(t *testing.T) {
	ctrl := gomock.NewController(t)
	dir := mocks.NewMockMemberDirectory(ctrl)
	memberID := id.NewMemberID()
	dir.EXPECT().GetMember(gomock.Any(), memberID).
		Return(&membermodels.Member{ID: memberID, Name: "Ana", Status: membermodels.StatusActive}, nil).AnyTimes()
	store := credentials.NewInMemoryStore()
	o := newPasskeyOracle(t, dir, store)

	_, err := o.BeginChallenge(context.Background(), memberID)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeVerificationRequired))

	require.NoError(t, store.Save(context.Background(), memberID, webauthn.Credential{ID: []byte("cred-1")}))
	assertion, err := o.BeginChallenge(context.Background(), memberID)
	require.NoError(t, err)
	assert.NotEmpty(t, assertion.Response.Challenge)
	require.Len(t, assertion.Response.AllowedCredentials, 1)

	// The challenge is single use: a malformed answer consumes it.
	res, err := o.Verify(context.Background(), models.VerificationRequest{
		MemberID: memberID, Method: models.VerificationBiometric, Evidence: "not json",
	})
	require.NoError(t, err)
	assert.Equal(t, "malformed_assertion", res.FailureReason)

	res, err = o.Verify(context.Background(), models.VerificationRequest{
		MemberID: memberID, Method: models.VerificationBiometric, Evidence: "not json",
	})
	require.NoError(t, err)
	assert.Equal(t, "no_challenge", res.FailureReason)
}

func TestPasskeyBeginRegistration(t *testing.T) {
	ctrl := gomock.NewController(t)
	dir := mocks.NewMockMemberDirectory(ctrl)
	memberID := id.NewMemberID()
	dir.EXPECT().GetMember(gomock.Any(), memberID).
		Return(&membermodels.Member{ID: memberID, Status: membermodels.StatusActive}, nil)
	o := newPasskeyOracle(t, dir, credentials.NewInMemoryStore())

	creation, err := o.BeginRegistration(context.Background(), memberID)
	require.NoError(t, err)
	assert.Equal(t, "vote.example.org", creation.Response.RelyingParty.ID)
	assert.Equal(t, memberID.String(), creation.Response.User.Name)

	err = o.FinishRegistration(context.Background(), id.NewMemberID(), []byte("{}"))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func TestSessionStoreExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newSessionStore(time.Minute)
	s.now = func() time.Time { return now }

	s.put("a", webauthn.SessionData{Challenge: "c1"})
	now = now.Add(2 * time.Minute)
	_, ok := s.take("a")
	assert.False(t, ok)

	s.put("b", webauthn.SessionData{Challenge: "c2"})
	got, ok := s.take("b")
	require.True(t, ok)
	assert.Equal(t, "c2", got.Challenge)
}
