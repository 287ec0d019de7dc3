//go:build integration

package result_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"unionvote/internal/voting/models"
	"unionvote/internal/voting/store/instance"
	"unionvote/internal/voting/store/result"
	id "unionvote/pkg/domain"
	"unionvote/pkg/platform/sentinel"
	"unionvote/pkg/testutil/containers"
)

type PostgresResultSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	results  *result.PostgresStore
	inst     *models.Instance
}

func TestPostgresResultSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresResultSuite))
}

func (s *PostgresResultSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.results = result.NewPostgresStore(s.postgres.DB)
}

func (s *PostgresResultSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.TruncateTables(ctx))
	votingID := id.NewVotingID()
	now := time.Now().UTC()
	s.inst = &models.Instance{
		ID:              votingID,
		Title:           "Budget",
		Type:            models.TypeSimple,
		Status:          models.StatusEnded,
		Visibility:      models.VisibilityPublic,
		ResultsMode:     models.ResultsOnClose,
		ConfidenceLevel: models.Confidence95,
		Options: []models.Option{
			{ID: id.NewOptionID(), VotingID: votingID, Title: "Yes", SortOrder: 1, IsActive: true},
			{ID: id.NewOptionID(), VotingID: votingID, Title: "No", SortOrder: 2, IsActive: true},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.Require().NoError(instance.NewPostgresStore(s.postgres.DB).Create(ctx, s.inst))
}

func (s *PostgresResultSuite) tabulation(yes, no int64) *models.Tabulation {
	now := time.Now().UTC().Truncate(time.Microsecond)
	total := yes + no
	return &models.Tabulation{
		VotingID: s.inst.ID,
		Summary: models.Summary{
			Method:       models.MethodPlurality,
			TotalBallots: total,
			TotalVotes:   total,
			Winners:      []id.OptionID{s.inst.Options[0].ID},
			CalculatedAt: now,
		},
		Results: []models.ResultSnapshot{
			{VotingID: s.inst.ID, OptionID: s.inst.Options[0].ID, VotesCount: yes, Percentage: models.PercentOf(yes, total), RankingPosition: 1, IsWinner: true, CalculatedAt: now},
			{VotingID: s.inst.ID, OptionID: s.inst.Options[1].ID, VotesCount: no, Percentage: models.PercentOf(no, total), RankingPosition: 2, CalculatedAt: now},
		},
	}
}

func (s *PostgresResultSuite) TestReplaceIsVersioned() {
	ctx := context.Background()

	_, err := s.results.Current(ctx, s.inst.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)

	first := s.tabulation(3, 2)
	s.Require().NoError(s.results.Replace(ctx, first, 0))
	s.Equal(int64(1), first.Version)

	s.ErrorIs(s.results.Replace(ctx, s.tabulation(1, 1), 0), sentinel.ErrConflict)

	s.Require().NoError(s.results.Replace(ctx, s.tabulation(4, 2), 1))

	got, err := s.results.Current(ctx, s.inst.ID)
	s.Require().NoError(err)
	s.Equal(int64(2), got.Version)
	s.Require().Len(got.Results, 2)
	s.Equal(int64(4), got.Results[0].VotesCount)
	s.Equal("Yes", got.Results[0].OptionTitle)
	s.Equal(models.Percentage(6667), got.Results[0].Percentage)
	s.Equal([]id.OptionID{s.inst.Options[0].ID}, got.Summary.Winners)
}

func (s *PostgresResultSuite) TestCurrentSeesWholeResultSets() {
	ctx := context.Background()
	s.Require().NoError(s.results.Replace(ctx, s.tabulation(3, 2), 0))

	writerErr := make(chan error, 1)
	go func() {
		version := int64(1)
		for i := int64(0); i < 50; i++ {
			tab := s.tabulation(4+i, 2)
			if err := s.results.Replace(ctx, tab, version); err != nil {
				writerErr <- err
				return
			}
			version = tab.Version
		}
		writerErr <- nil
	}()

	for {
		got, err := s.results.Current(ctx, s.inst.ID)
		s.Require().NoError(err)
		var sum int64
		for _, r := range got.Results {
			sum += r.VotesCount
		}
		s.Require().Len(got.Results, 2)
		s.Require().Equal(got.Summary.TotalVotes, sum, "summary and rows from version %d", got.Version)

		select {
		case err := <-writerErr:
			s.Require().NoError(err)
			return
		default:
		}
	}
}
