package result

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unionvote/internal/voting/models"
	id "unionvote/pkg/domain"
	"unionvote/pkg/platform/sentinel"
)

func TestReplaceVersioning(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	votingID := id.NewVotingID()

	_, err := s.Current(ctx, votingID)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	first := &models.Tabulation{VotingID: votingID, Summary: models.Summary{TotalVotes: 1}}
	require.NoError(t, s.Replace(ctx, first, 0))
	assert.Equal(t, int64(1), first.Version)

	stale := &models.Tabulation{VotingID: votingID, Summary: models.Summary{TotalVotes: 9}}
	assert.ErrorIs(t, s.Replace(ctx, stale, 0), sentinel.ErrConflict)

	second := &models.Tabulation{VotingID: votingID, Summary: models.Summary{TotalVotes: 2}}
	require.NoError(t, s.Replace(ctx, second, 1))

	got, err := s.Current(ctx, votingID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, int64(2), got.Summary.TotalVotes)
}

func TestCurrentReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	votingID := id.NewVotingID()
	tab := &models.Tabulation{
		VotingID: votingID,
		Results:  []models.ResultSnapshot{{VotesCount: 3}},
	}
	require.NoError(t, s.Replace(ctx, tab, 0))

	got, err := s.Current(ctx, votingID)
	require.NoError(t, err)
	got.Results[0].VotesCount = 99

	again, err := s.Current(ctx, votingID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), again.Results[0].VotesCount)
}
