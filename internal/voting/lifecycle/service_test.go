package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	membermodels "unionvote/internal/member/models"
	memberstore "unionvote/internal/member/store"
	"unionvote/internal/voting/eligibility"
	"unionvote/internal/voting/events"
	"unionvote/internal/voting/models"
	"unionvote/internal/voting/store/ballot"
	"unionvote/internal/voting/store/instance"
	"unionvote/internal/voting/store/result"
	"unionvote/internal/voting/store/txrunner"
	"unionvote/internal/voting/tabulation"
	id "unionvote/pkg/domain"
	dErrors "unionvote/pkg/domain-errors"
	"unionvote/pkg/requestcontext"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type LifecycleSuite struct {
	suite.Suite
	instances *instance.InMemoryStore
	ballots   *ballot.InMemoryStore
	results   *result.InMemoryStore
	recorder  *events.Recorder
	service   *Service
	members   []membermodels.Member
}

func TestLifecycleSuite(t *testing.T) {
	suite.Run(t, new(LifecycleSuite))
}

func (s *LifecycleSuite) SetupTest() {
	s.instances = instance.NewInMemoryStore()
	s.ballots = ballot.NewInMemoryStore()
	s.results = result.NewInMemoryStore()
	s.recorder = events.NewRecorder()
	s.members = nil
	for _, name := range []string{"Ada", "Grace", "Linus", "Barbara"} {
		s.members = append(s.members, membermodels.Member{ID: id.NewMemberID(), Name: name, Status: membermodels.StatusActive})
	}
	directory := memberstore.NewInMemoryDirectory(s.members...)

	elig, err := eligibility.New(s.instances, s.ballots, directory, "ballot-secret")
	s.Require().NoError(err)
	tx := txrunner.NewMemory()
	tab, err := tabulation.New(s.instances, s.ballots, s.results, elig, tx)
	s.Require().NoError(err)
	s.service, err = New(s.instances, s.ballots, tab, tx, WithEventPublisher(s.recorder), WithSweepParallelism(2))
	s.Require().NoError(err)
}

func (s *LifecycleSuite) at(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

func (s *LifecycleSuite) create(mutate func(*CreateCommand)) *models.Instance {
	cmd := CreateCommand{
		Title:      "Annual dues",
		Type:       models.TypeSimple,
		Visibility: models.VisibilityPublic,
		Options:    []OptionInput{{Title: "Raise"}, {Title: "Keep"}},
		CreatedBy:  "admin",
	}
	if mutate != nil {
		mutate(&cmd)
	}
	inst, err := s.service.Create(s.at(t0), cmd)
	s.Require().NoError(err)
	return inst
}

func (s *LifecycleSuite) castFor(inst *models.Instance, member membermodels.Member, option int) {
	memberID := member.ID
	_, err := s.ballots.Append(context.Background(), &models.Ballot{
		ID:        id.NewBallotID(),
		VotingID:  inst.ID,
		VoterKey:  memberID.String(),
		MemberID:  &memberID,
		Selection: models.Single{Option: inst.Options[option].ID},
		IPHash:    "iphash",
		Device:    "Firefox 120 / Linux (desktop)",
		CastAt:    t0,
	}, false)
	s.Require().NoError(err)
}

func (s *LifecycleSuite) TestCreateAppliesDefaults() {
	inst := s.create(nil)
	s.Equal(models.StatusDraft, inst.Status)
	s.Equal(models.ResultsOnClose, inst.ResultsMode)
	s.Equal(models.Confidence95, inst.ConfidenceLevel)
	s.Equal(1, inst.Policy.MaxVotesPerUser)
	s.Require().Len(inst.Options, 2)
	s.Equal(1, inst.Options[0].SortOrder)
	s.Equal(2, inst.Options[1].SortOrder)
	s.True(inst.Options[1].IsActive)

	stored, err := s.service.Get(context.Background(), inst.ID)
	s.Require().NoError(err)
	s.Equal(inst.Title, stored.Title)
}

func (s *LifecycleSuite) TestCreateRejectsInvalid() {
	_, err := s.service.Create(s.at(t0), CreateCommand{Title: " ", Type: models.TypeSimple})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	ends := t0.Add(-time.Hour)
	_, err = s.service.Create(s.at(t0), CreateCommand{Title: "x", Type: models.TypeSimple, StartsAt: &t0, EndsAt: &ends})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *LifecycleSuite) TestUpdateDraftOnlyInDraft() {
	inst := s.create(nil)
	title := "Annual dues 2027"
	options := []OptionInput{{ID: inst.Options[0].ID, Title: "Raise by 2%"}, {Title: "Keep"}, {Title: "Lower"}}

	updated, err := s.service.UpdateDraft(s.at(t0), inst.ID, DraftUpdate{Title: &title, Options: &options})
	s.Require().NoError(err)
	s.Equal(title, updated.Title)
	s.Require().Len(updated.Options, 3)
	s.Equal(inst.Options[0].ID, updated.Options[0].ID)
	s.NotEqual(inst.Options[1].ID, updated.Options[1].ID)

	_, err = s.service.Activate(s.at(t0), inst.ID, true)
	s.Require().NoError(err)
	_, err = s.service.UpdateDraft(s.at(t0), inst.ID, DraftUpdate{Title: &title})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
}

func (s *LifecycleSuite) TestSchedule() {
	s.Run("needs a future start", func() {
		inst := s.create(nil)
		_, err := s.service.Schedule(s.at(t0), inst.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})
	s.Run("needs two options", func() {
		starts := t0.Add(time.Hour)
		inst := s.create(func(c *CreateCommand) {
			c.Options = c.Options[:1]
			c.StartsAt = &starts
		})
		_, err := s.service.Schedule(s.at(t0), inst.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})
	s.Run("schedules", func() {
		starts := t0.Add(time.Hour)
		inst := s.create(func(c *CreateCommand) { c.StartsAt = &starts })
		scheduled, err := s.service.Schedule(s.at(t0), inst.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusScheduled, scheduled.Status)
	})
}

func (s *LifecycleSuite) TestActivate() {
	starts := t0.Add(time.Hour)
	inst := s.create(func(c *CreateCommand) { c.StartsAt = &starts })

	_, err := s.service.Activate(s.at(t0), inst.ID, false)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))

	active, err := s.service.Activate(s.at(t0), inst.ID, true)
	s.Require().NoError(err)
	s.Equal(models.StatusActive, active.Status)
	s.Require().NotNil(active.ActualStartAt)
	s.Equal(t0, *active.ActualStartAt)
	s.Equal([]events.Type{events.TypeVotingActivated}, s.recorder.Types())

	_, err = s.service.Activate(s.at(t0), inst.ID, true)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
}

func (s *LifecycleSuite) TestPauseResume() {
	ends := t0.Add(2 * time.Hour)
	inst := s.create(func(c *CreateCommand) { c.EndsAt = &ends })
	_, err := s.service.Activate(s.at(t0), inst.ID, true)
	s.Require().NoError(err)

	_, err = s.service.Resume(s.at(t0), inst.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))

	paused, err := s.service.Pause(s.at(t0), inst.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPaused, paused.Status)

	_, err = s.service.Resume(s.at(ends), inst.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))

	resumed, err := s.service.Resume(s.at(t0.Add(time.Hour)), inst.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusActive, resumed.Status)
}

func (s *LifecycleSuite) TestCloseComputesFinalResults() {
	inst := s.create(func(c *CreateCommand) {
		c.Quorum = models.QuorumPolicy{Required: true, Percentage: 7500}
	})
	_, err := s.service.Activate(s.at(t0), inst.ID, true)
	s.Require().NoError(err)
	s.castFor(inst, s.members[0], 0)
	s.castFor(inst, s.members[1], 0)
	s.castFor(inst, s.members[2], 1)

	ended, tab, err := s.service.Close(s.at(t0.Add(time.Hour)), inst.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusEnded, ended.Status)
	s.Require().NotNil(ended.ActualEndAt)
	s.Equal("75.00", tab.Summary.ParticipationRate.String())
	s.True(tab.Summary.QuorumReached)
	s.Equal([]id.OptionID{inst.Options[0].ID}, tab.Summary.Winners)
	s.False(tab.Summary.Voided)

	stored, err := s.results.Current(context.Background(), inst.ID)
	s.Require().NoError(err)
	s.Equal(tab.Version, stored.Version)

	reloaded, err := s.service.Get(context.Background(), inst.ID)
	s.Require().NoError(err)
	s.Equal(int64(3), reloaded.Counters.TotalVotes)

	s.Equal([]events.Type{events.TypeVotingActivated, events.TypeVotingEnded, events.TypeResultsPublished}, s.recorder.Types())
	published := s.recorder.Events()[2]
	s.Require().NotNil(published.Summary.QuorumReached)
	s.True(*published.Summary.QuorumReached)
	s.Equal(int64(3), published.Summary.TotalVotes)
}

func (s *LifecycleSuite) TestCloseWithoutQuorumStillEnds() {
	inst := s.create(func(c *CreateCommand) {
		c.Quorum = models.QuorumPolicy{Required: true, Percentage: 5000}
	})
	_, err := s.service.Activate(s.at(t0), inst.ID, true)
	s.Require().NoError(err)
	s.castFor(inst, s.members[0], 1)

	ended, tab, err := s.service.Close(s.at(t0), inst.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusEnded, ended.Status)
	s.Equal("25.00", tab.Summary.ParticipationRate.String())
	s.False(tab.Summary.QuorumReached)
	s.False(ended.Counters.QuorumReached)
}

func (s *LifecycleSuite) TestCloseAnonymizes() {
	inst := s.create(func(c *CreateCommand) { c.Policy.IsAnonymous = true })
	_, err := s.service.Activate(s.at(t0), inst.ID, true)
	s.Require().NoError(err)
	s.castFor(inst, s.members[0], 0)

	_, _, err = s.service.Close(s.at(t0), inst.ID)
	s.Require().NoError(err)

	list, err := s.ballots.ListAll(context.Background(), inst.ID)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Empty(list[0].IPHash)
	s.Empty(list[0].Device)
	s.NotNil(list[0].AnonymizedAt)
	s.NotNil(list[0].MemberID)
}

func (s *LifecycleSuite) TestAnonymizeRequiresFinishedVoting() {
	inst := s.create(nil)
	_, err := s.service.Activate(s.at(t0), inst.ID, true)
	s.Require().NoError(err)
	s.castFor(inst, s.members[0], 0)

	_, err = s.service.Anonymize(s.at(t0), inst.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))

	_, _, err = s.service.Close(s.at(t0), inst.ID)
	s.Require().NoError(err)
	n, err := s.service.Anonymize(s.at(t0), inst.ID)
	s.Require().NoError(err)
	s.Equal(int64(1), n)
}

func (s *LifecycleSuite) TestCancel() {
	inst := s.create(nil)
	_, err := s.service.Activate(s.at(t0), inst.ID, true)
	s.Require().NoError(err)
	s.castFor(inst, s.members[0], 0)

	_, _, err = s.service.Cancel(s.at(t0), inst.ID, "  ")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	cancelled, tab, err := s.service.Cancel(s.at(t0), inst.ID, "bylaws violation")
	s.Require().NoError(err)
	s.Equal(models.StatusCancelled, cancelled.Status)
	s.Equal("bylaws violation", cancelled.CancelReason)
	s.True(tab.Summary.Voided)

	list, err := s.ballots.ListCurrent(context.Background(), inst.ID)
	s.Require().NoError(err)
	s.Len(list, 1)

	_, _, err = s.service.Close(s.at(t0), inst.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	_, _, err = s.service.Cancel(s.at(t0), inst.ID, "again")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
}

func (s *LifecycleSuite) TestCloseDraftIsInvalid() {
	inst := s.create(nil)
	_, _, err := s.service.Close(s.at(t0), inst.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	_, err = s.service.Pause(s.at(t0), inst.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
}

func (s *LifecycleSuite) TestUnknownVoting() {
	_, err := s.service.Pause(s.at(t0), id.NewVotingID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *LifecycleSuite) TestList() {
	a := s.create(nil)
	s.create(nil)
	_, err := s.service.Activate(s.at(t0), a.ID, true)
	s.Require().NoError(err)

	all, err := s.service.List(context.Background())
	s.Require().NoError(err)
	s.Len(all, 2)

	active, err := s.service.List(context.Background(), models.StatusActive)
	s.Require().NoError(err)
	s.Require().Len(active, 1)
	s.Equal(a.ID, active[0].ID)

	_, err = s.service.List(context.Background(), models.Status("closed"))
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *LifecycleSuite) TestSweep() {
	starts, ends := t0.Add(time.Hour), t0.Add(3*time.Hour)

	toStart := s.create(func(c *CreateCommand) { c.StartsAt, c.EndsAt = &starts, &ends })
	_, err := s.service.Schedule(s.at(t0), toStart.ID)
	s.Require().NoError(err)

	shortEnd := t0.Add(90 * time.Minute)
	toClose := s.create(func(c *CreateCommand) { c.EndsAt = &shortEnd })
	_, err = s.service.Activate(s.at(t0), toClose.ID, true)
	s.Require().NoError(err)

	missedEnd := t0.Add(100 * time.Minute)
	missed := s.create(func(c *CreateCommand) { c.StartsAt, c.EndsAt = &starts, &missedEnd })
	_, err = s.service.Schedule(s.at(t0), missed.ID)
	s.Require().NoError(err)

	untouched := s.create(nil)

	report, err := s.service.Sweep(context.Background(), t0.Add(2*time.Hour))
	s.Require().NoError(err)
	s.Equal(SweepReport{Activated: 1, Closed: 1, Cancelled: 1}, report)

	status := func(votingID id.VotingID) models.Status {
		inst, err := s.service.Get(context.Background(), votingID)
		s.Require().NoError(err)
		return inst.Status
	}
	s.Equal(models.StatusActive, status(toStart.ID))
	s.Equal(models.StatusEnded, status(toClose.ID))
	s.Equal(models.StatusCancelled, status(missed.ID))
	s.Equal(models.StatusDraft, status(untouched.ID))

	report, err = s.service.Sweep(context.Background(), t0.Add(2*time.Hour))
	s.Require().NoError(err)
	s.Equal(SweepReport{}, report)
}

func (s *LifecycleSuite) TestSweeperStopsOnCancel() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewSweeper(s.service, 5*time.Millisecond, nil).Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		s.ErrorIs(err, context.Canceled)
	case <-time.After(time.Second):
		s.Fail("sweeper did not stop")
	}
}

func (s *LifecycleSuite) TestDeactivatedOptionIsStillTallied() {
	inst := s.create(nil)
	_, err := s.service.Activate(s.at(t0), inst.ID, true)
	s.Require().NoError(err)
	s.castFor(inst, s.members[0], 1)

	withdrawn := inst.Options[1].ID
	updated, err := s.service.DeactivateOption(s.at(t0), inst.ID, withdrawn)
	s.Require().NoError(err)
	opt, ok := updated.Option(withdrawn)
	s.Require().True(ok)
	s.False(opt.IsActive)

	_, err = s.service.DeactivateOption(s.at(t0), inst.ID, inst.Options[0].ID)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition), "last active option stays")

	_, tab, err := s.service.Close(s.at(t0.Add(time.Hour)), inst.ID)
	s.Require().NoError(err)
	s.Equal([]id.OptionID{withdrawn}, tab.Summary.Winners)
	for _, r := range tab.Results {
		if r.OptionID == withdrawn {
			s.Equal(int64(1), r.VotesCount)
		}
	}

	_, err = s.service.DeactivateOption(s.at(t0), inst.ID, withdrawn)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
}
