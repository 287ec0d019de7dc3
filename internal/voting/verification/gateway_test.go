package verification

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"unionvote/internal/voting/models"
	"unionvote/internal/voting/ports/mocks"
	"unionvote/internal/voting/verification/attempts"
	id "unionvote/pkg/domain"
	dErrors "unionvote/pkg/domain-errors"
	"unionvote/pkg/platform/audit"
)

type GatewaySuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	oracle  *mocks.MockVerificationOracle
	audit   *mocks.MockAuditPublisher
	limiter *Limiter
	gateway *Gateway
	member  id.MemberID
}

func TestGatewaySuite(t *testing.T) {
	suite.Run(t, new(GatewaySuite))
}

func (s *GatewaySuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.oracle = mocks.NewMockVerificationOracle(s.ctrl)
	s.audit = mocks.NewMockAuditPublisher(s.ctrl)
	s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	var err error
	s.limiter, err = NewLimiter(attempts.NewInMemoryStore(), WithLimiterConfig(LimiterConfig{
		MaxFailures: 3,
		Window:      time.Minute,
		Lockout:     time.Minute,
	}))
	s.Require().NoError(err)
	s.gateway, err = NewGateway(s.oracle, "digest-key",
		WithLimiter(s.limiter),
		WithTimeout(50*time.Millisecond),
		WithAuditPublisher(s.audit),
	)
	s.Require().NoError(err)
	s.member = id.NewMemberID()
}

func (s *GatewaySuite) instance(policy models.BallotPolicy) *models.Instance {
	return &models.Instance{ID: id.NewVotingID(), Status: models.StatusActive, Policy: policy}
}

func (s *GatewaySuite) request(method models.VerificationMethod, evidence string) *models.VerificationRequest {
	return &models.VerificationRequest{MemberID: s.member, Method: method, Evidence: evidence}
}

func (s *GatewaySuite) TestNoPolicyNoEvidence() {
	proof, err := s.gateway.Verify(context.Background(), s.instance(models.BallotPolicy{}), nil)
	s.Require().NoError(err)
	s.Equal(models.NoProof, proof)
}

func (s *GatewaySuite) TestBiometricRequired() {
	inst := s.instance(models.BallotPolicy{RequiresBiometric: true})

	s.Run("nothing submitted", func() {
		_, err := s.gateway.Verify(context.Background(), inst, s.request(models.VerificationNone, ""))
		s.True(dErrors.HasCode(err, dErrors.CodeVerificationRequired))
	})
	s.Run("password does not satisfy biometric", func() {
		_, err := s.gateway.Verify(context.Background(), inst, s.request(models.VerificationPassword, "hunter2"))
		s.True(dErrors.HasCode(err, dErrors.CodeVerificationRequired))
	})
}

func (s *GatewaySuite) TestVerifiedProofCarriesDigestOnly() {
	inst := s.instance(models.BallotPolicy{RequiresReauth: true})
	s.oracle.EXPECT().Verify(gomock.Any(), gomock.Any()).
		Return(&models.VerificationResult{Verified: true, Method: models.VerificationPassword}, nil)

	proof, err := s.gateway.Verify(context.Background(), inst, s.request(models.VerificationPassword, "hunter2"))
	s.Require().NoError(err)
	s.Equal(models.VerificationPassword, proof.Method)
	s.NotEmpty(proof.Digest)
	s.NotContains(proof.Digest, "hunter2")
}

func (s *GatewaySuite) TestOracleDigestWins() {
	inst := s.instance(models.BallotPolicy{RequiresBiometric: true})
	conf := 0.97
	s.oracle.EXPECT().Verify(gomock.Any(), gomock.Any()).
		Return(&models.VerificationResult{Verified: true, Method: models.VerificationBiometric, Digest: "abc", Confidence: &conf}, nil)

	proof, err := s.gateway.Verify(context.Background(), inst, s.request(models.VerificationBiometric, "sample-1"))
	s.Require().NoError(err)
	s.Equal("abc", proof.Digest)
	s.Require().NotNil(proof.Confidence)
	s.InDelta(0.97, *proof.Confidence, 1e-9)
}

func (s *GatewaySuite) TestTimeoutFailsClosedWithoutCounting() {
	inst := s.instance(models.BallotPolicy{RequiresBiometric: true})
	s.oracle.EXPECT().Verify(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ models.VerificationRequest) (*models.VerificationResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}).Times(4)

	for range 4 {
		_, err := s.gateway.Verify(context.Background(), inst, s.request(models.VerificationBiometric, "sample"))
		s.True(dErrors.HasCode(err, dErrors.CodeVerificationFailed))
	}
	s.NoError(s.limiter.Check(context.Background(), s.member))
}

func (s *GatewaySuite) TestLateSuccessIsATimeout() {
	inst := s.instance(models.BallotPolicy{RequiresReauth: true})
	s.oracle.EXPECT().Verify(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ models.VerificationRequest) (*models.VerificationResult, error) {
			<-ctx.Done()
			return &models.VerificationResult{Verified: true, Method: models.VerificationPassword}, nil
		})

	proof, err := s.gateway.Verify(context.Background(), inst, s.request(models.VerificationPassword, "hunter2"))
	s.True(dErrors.HasCode(err, dErrors.CodeVerificationFailed))
	s.ErrorIs(err, context.DeadlineExceeded)
	s.Empty(proof.Digest)
}

func (s *GatewaySuite) TestRejectionsLockOut() {
	inst := s.instance(models.BallotPolicy{RequiresReauth: true})
	s.oracle.EXPECT().Verify(gomock.Any(), gomock.Any()).
		Return(&models.VerificationResult{Method: models.VerificationPassword, FailureReason: "mismatch"}, nil).
		Times(3)

	for range 3 {
		_, err := s.gateway.Verify(context.Background(), inst, s.request(models.VerificationPassword, "wrong"))
		s.True(dErrors.HasCode(err, dErrors.CodeVerificationFailed))
	}

	// Locked: the oracle is not consulted again.
	_, err := s.gateway.Verify(context.Background(), inst, s.request(models.VerificationPassword, "right"))
	s.True(dErrors.HasCode(err, dErrors.CodeRateLimited))
}

func (s *GatewaySuite) TestSuccessClearsFailures() {
	inst := s.instance(models.BallotPolicy{RequiresReauth: true})
	gomock.InOrder(
		s.oracle.EXPECT().Verify(gomock.Any(), gomock.Any()).
			Return(&models.VerificationResult{FailureReason: "mismatch"}, nil).Times(2),
		s.oracle.EXPECT().Verify(gomock.Any(), gomock.Any()).
			Return(&models.VerificationResult{Verified: true}, nil),
		s.oracle.EXPECT().Verify(gomock.Any(), gomock.Any()).
			Return(&models.VerificationResult{FailureReason: "mismatch"}, nil).Times(2),
	)

	for range 2 {
		_, _ = s.gateway.Verify(context.Background(), inst, s.request(models.VerificationPassword, "wrong"))
	}
	_, err := s.gateway.Verify(context.Background(), inst, s.request(models.VerificationPassword, "right"))
	s.Require().NoError(err)
	for range 2 {
		_, _ = s.gateway.Verify(context.Background(), inst, s.request(models.VerificationPassword, "wrong"))
	}
	s.NoError(s.limiter.Check(context.Background(), s.member))
}

func (s *GatewaySuite) TestSecretVotingAuditOmitsMember() {
	ctrl := gomock.NewController(s.T())
	publisher := mocks.NewMockAuditPublisher(ctrl)
	var got []audit.Event
	publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, e audit.Event) { got = append(got, e) }).
		Return(nil).AnyTimes()
	g, err := NewGateway(s.oracle, "digest-key", WithAuditPublisher(publisher))
	s.Require().NoError(err)

	inst := s.instance(models.BallotPolicy{RequiresReauth: true, IsSecret: true})
	s.oracle.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(&models.VerificationResult{Verified: true}, nil)
	_, err = g.Verify(context.Background(), inst, s.request(models.VerificationPassword, "pw"))
	s.Require().NoError(err)

	s.Require().Len(got, 1)
	s.Equal(string(audit.EventVerificationSucceeded), got[0].Action)
	s.Empty(got[0].Subject)
}

func (s *GatewaySuite) TestRouterUnknownMethodFails() {
	router := NewRouter().Register(models.VerificationPassword, s.oracle)
	g, err := NewGateway(router, "digest-key")
	s.Require().NoError(err)

	_, err = g.Verify(context.Background(), s.instance(models.BallotPolicy{}), s.request(models.VerificationSMS, "123456"))
	s.True(dErrors.HasCode(err, dErrors.CodeVerificationFailed))
	s.False(router.Supports(models.VerificationSMS))
}
