package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	membermodels "unionvote/internal/member/models"
	memberstore "unionvote/internal/member/store"
	"unionvote/internal/voting/eligibility"
	"unionvote/internal/voting/models"
	"unionvote/internal/voting/ports/mocks"
	"unionvote/internal/voting/store/ballot"
	"unionvote/internal/voting/store/instance"
	"unionvote/internal/voting/store/txrunner"
	"unionvote/internal/voting/verification"
	id "unionvote/pkg/domain"
	dErrors "unionvote/pkg/domain-errors"
	"unionvote/pkg/requestcontext"
)

var castTime = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

type countingTabulator struct {
	calls atomic.Int32
}

func (c *countingTabulator) Tabulate(context.Context, id.VotingID) (*models.Tabulation, error) {
	c.calls.Add(1)
	return &models.Tabulation{}, nil
}

type LedgerSuite struct {
	suite.Suite
	ctx       context.Context
	ctrl      *gomock.Controller
	oracle    *mocks.MockVerificationOracle
	instances *instance.InMemoryStore
	ballots   *ballot.InMemoryStore
	directory *memberstore.InMemoryDirectory
	tabulator *countingTabulator
	service   *Service
	member    membermodels.Member
}

func TestLedgerSuite(t *testing.T) {
	suite.Run(t, new(LedgerSuite))
}

func (s *LedgerSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), castTime)
	s.ctrl = gomock.NewController(s.T())
	s.oracle = mocks.NewMockVerificationOracle(s.ctrl)
	s.instances = instance.NewInMemoryStore()
	s.ballots = ballot.NewInMemoryStore()
	s.member = membermodels.Member{ID: id.NewMemberID(), Name: "Ada", Status: membermodels.StatusActive}
	s.directory = memberstore.NewInMemoryDirectory(
		s.member,
		membermodels.Member{ID: id.NewMemberID(), Name: "Grace", Status: membermodels.StatusActive},
		membermodels.Member{ID: id.NewMemberID(), Name: "Linus", Status: membermodels.StatusActive},
		membermodels.Member{ID: id.NewMemberID(), Name: "Ken", Status: membermodels.StatusInactive},
	)
	s.tabulator = &countingTabulator{}

	elig, err := eligibility.New(s.instances, s.ballots, s.directory, "ballot-secret")
	s.Require().NoError(err)
	gateway, err := verification.NewGateway(s.oracle, "digest-key")
	s.Require().NoError(err)
	s.service, err = New(s.instances, s.ballots, elig, gateway, txrunner.NewMemory(),
		WithTabulator(s.tabulator),
		WithIPSalt("ip-salt"),
	)
	s.Require().NoError(err)
}

func (s *LedgerSuite) newInstance(mutate func(*models.Instance)) *models.Instance {
	inst := &models.Instance{
		ID:          id.NewVotingID(),
		Title:       "Strike authorization",
		Type:        models.TypeSimple,
		Status:      models.StatusActive,
		Visibility:  models.VisibilityPublic,
		ResultsMode: models.ResultsOnClose,
		Policy:      models.BallotPolicy{MaxVotesPerUser: 1},
	}
	for i, title := range []string{"Yes", "No"} {
		inst.Options = append(inst.Options, models.Option{
			ID: id.NewOptionID(), VotingID: inst.ID, Title: title, SortOrder: i + 1, IsActive: true,
		})
	}
	if mutate != nil {
		mutate(inst)
	}
	s.Require().NoError(s.instances.Create(s.ctx, inst))
	return inst
}

func (s *LedgerSuite) request(inst *models.Instance, option int) CastRequest {
	return CastRequest{
		VotingID:  inst.ID,
		MemberID:  s.member.ID,
		Selection: models.Single{Option: inst.Options[option].ID},
		ClientIP:  "203.0.113.7",
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64; rv:120.0) Gecko/20100101 Firefox/120.0",
	}
}

func (s *LedgerSuite) current(inst *models.Instance) []*models.Ballot {
	list, err := s.ballots.ListCurrent(s.ctx, inst.ID)
	s.Require().NoError(err)
	return list
}

func (s *LedgerSuite) TestCastRecordsBallotAndCounters() {
	inst := s.newInstance(nil)

	b, err := s.service.CastBallot(s.ctx, s.request(inst, 0))
	s.Require().NoError(err)
	s.Require().NotNil(b.MemberID)
	s.Equal(s.member.ID, *b.MemberID)
	s.Equal(models.VerificationNone, b.VerificationMethod)
	s.NotEmpty(b.IPHash)
	s.NotEqual("203.0.113.7", b.IPHash)
	s.Contains(b.Device, "Firefox")
	s.Equal(castTime, b.CastAt)

	stored, err := s.instances.Get(s.ctx, inst.ID)
	s.Require().NoError(err)
	s.Equal(int64(1), stored.Counters.TotalVotes)
	// Three active members are eligible.
	s.Equal("33.33", stored.Counters.ParticipationRate.String())
	s.Zero(s.tabulator.calls.Load())
}

func (s *LedgerSuite) TestSecondBallotRejected() {
	inst := s.newInstance(nil)
	_, err := s.service.CastBallot(s.ctx, s.request(inst, 0))
	s.Require().NoError(err)

	_, err = s.service.CastBallot(s.ctx, s.request(inst, 1))
	s.True(dErrors.HasCode(err, dErrors.CodeAlreadyVoted))
	s.Len(s.current(inst), 1)
}

func (s *LedgerSuite) TestVoteChangeSupersedes() {
	inst := s.newInstance(func(i *models.Instance) { i.Policy.AllowVoteChange = true })
	_, err := s.service.CastBallot(s.ctx, s.request(inst, 0))
	s.Require().NoError(err)
	_, err = s.service.CastBallot(s.ctx, s.request(inst, 1))
	s.Require().NoError(err)

	current := s.current(inst)
	s.Require().Len(current, 1)
	s.Equal(models.Single{Option: inst.Options[1].ID}, current[0].Selection)

	all, err := s.ballots.ListAll(s.ctx, inst.ID)
	s.Require().NoError(err)
	s.Len(all, 2)
}

func (s *LedgerSuite) TestConcurrentCastsRecordOneBallot() {
	inst := s.newInstance(nil)

	const n = 16
	var wg sync.WaitGroup
	var accepted atomic.Int32
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.CastBallot(s.ctx, s.request(inst, i%2))
			if err == nil {
				accepted.Add(1)
				return
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	s.Equal(int32(1), accepted.Load())
	for err := range errs {
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyVoted) || dErrors.HasCode(err, dErrors.CodeDuplicateVote), err.Error())
	}
	s.Len(s.current(inst), 1)
}

func (s *LedgerSuite) TestBiometricRequiredWithoutEvidence() {
	inst := s.newInstance(func(i *models.Instance) { i.Policy.RequiresBiometric = true })

	_, err := s.service.CastBallot(s.ctx, s.request(inst, 0))
	s.True(dErrors.HasCode(err, dErrors.CodeVerificationRequired))
	s.Empty(s.current(inst))
}

func (s *LedgerSuite) TestRejectedVerificationLeavesNoBallot() {
	inst := s.newInstance(func(i *models.Instance) { i.Policy.RequiresReauth = true })
	s.oracle.EXPECT().Verify(gomock.Any(), gomock.Any()).
		Return(&models.VerificationResult{Verified: false, FailureReason: "mismatch"}, nil)

	req := s.request(inst, 0)
	req.Verification = &models.VerificationRequest{Method: models.VerificationPassword, Evidence: "wrong"}
	_, err := s.service.CastBallot(s.ctx, req)
	s.True(dErrors.HasCode(err, dErrors.CodeVerificationFailed))
	s.Empty(s.current(inst))
}

func (s *LedgerSuite) TestVerifiedBallotCarriesProof() {
	inst := s.newInstance(func(i *models.Instance) { i.Policy.RequiresBiometric = true })
	confidence := 0.97
	s.oracle.EXPECT().Verify(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req models.VerificationRequest) (*models.VerificationResult, error) {
			s.Equal(s.member.ID, req.MemberID)
			return &models.VerificationResult{Verified: true, Confidence: &confidence, Digest: "sha256:abc"}, nil
		})

	req := s.request(inst, 0)
	req.Verification = &models.VerificationRequest{Method: models.VerificationBiometric, Evidence: "sample-1"}
	b, err := s.service.CastBallot(s.ctx, req)
	s.Require().NoError(err)
	s.Equal(models.VerificationBiometric, b.VerificationMethod)
	s.Equal("sha256:abc", b.VerificationDigest)
	s.Equal(&confidence, b.VerificationConfidence)
}

func (s *LedgerSuite) TestSecretBallotIsUnlinkable() {
	inst := s.newInstance(func(i *models.Instance) { i.Policy.IsSecret = true })

	b, err := s.service.CastBallot(s.ctx, s.request(inst, 0))
	s.Require().NoError(err)
	s.Nil(b.MemberID)
	s.Empty(b.IPHash)
	s.Empty(b.Device)
	s.NotNil(b.AnonymizedAt)
	s.NotContains(b.VoterKey, s.member.ID.String())

	_, err = s.service.CastBallot(s.ctx, s.request(inst, 1))
	s.True(dErrors.HasCode(err, dErrors.CodeAlreadyVoted))
}

func (s *LedgerSuite) TestAbstention() {
	inst := s.newInstance(func(i *models.Instance) {
		i.Type = models.TypeApproval
		i.Policy.AllowAbstention = true
	})
	req := s.request(inst, 0)
	req.Selection = models.Approval{}

	b, err := s.service.CastBallot(s.ctx, req)
	s.Require().NoError(err)
	s.True(b.IsAbstention)

	stored, err := s.instances.Get(s.ctx, inst.ID)
	s.Require().NoError(err)
	s.Equal(int64(0), stored.Counters.TotalVotes)
	s.Equal(int64(1), stored.Counters.TotalParticipants)
}

func (s *LedgerSuite) TestAbstentionNotAllowed() {
	inst := s.newInstance(nil)
	req := s.request(inst, 0)
	req.Selection = nil

	_, err := s.service.CastBallot(s.ctx, req)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidSelection))
}

func (s *LedgerSuite) TestIneligible() {
	s.Run("inactive voting", func() {
		inst := s.newInstance(func(i *models.Instance) { i.Status = models.StatusPaused })
		_, err := s.service.CastBallot(s.ctx, s.request(inst, 0))
		s.True(dErrors.HasCode(err, dErrors.CodeNotActive))
	})
	s.Run("denied member", func() {
		inst := s.newInstance(func(i *models.Instance) {
			i.Criteria.DenyMemberIDs = []id.MemberID{s.member.ID}
		})
		_, err := s.service.CastBallot(s.ctx, s.request(inst, 0))
		s.True(dErrors.HasCode(err, dErrors.CodeExcluded))
	})
	s.Run("unknown member", func() {
		inst := s.newInstance(nil)
		req := s.request(inst, 0)
		req.MemberID = id.NewMemberID()
		_, err := s.service.CastBallot(s.ctx, req)
		s.True(dErrors.HasCode(err, dErrors.CodeNotEligible))
	})
	s.Run("unknown voting", func() {
		_, err := s.service.CastBallot(s.ctx, CastRequest{VotingID: id.NewVotingID(), MemberID: s.member.ID})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *LedgerSuite) TestInvalidSelection() {
	inst := s.newInstance(nil)
	req := s.request(inst, 0)
	req.Selection = models.Single{Option: id.NewOptionID()}

	_, err := s.service.CastBallot(s.ctx, req)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidSelection))
}

func (s *LedgerSuite) TestRealtimeTabulates() {
	inst := s.newInstance(func(i *models.Instance) { i.ResultsMode = models.ResultsRealtime })
	_, err := s.service.CastBallot(s.ctx, s.request(inst, 0))
	s.Require().NoError(err)
	s.Equal(int32(1), s.tabulator.calls.Load())
}

func (s *LedgerSuite) TestCountersFor() {
	inst := &models.Instance{Quorum: models.QuorumPolicy{Required: true, Percentage: 5000}}
	c := CountersFor(inst, models.BallotCounts{Total: 40, Abstentions: 5}, 100)
	s.Equal(int64(35), c.TotalVotes)
	s.Equal(int64(40), c.TotalParticipants)
	s.Equal("40.00", c.ParticipationRate.String())
	s.False(c.QuorumReached)
}
