package tabulation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unionvote/internal/voting/models"
	id "unionvote/pkg/domain"
)

func ranked(inst *models.Instance, order ...int) *models.Ballot {
	choices := make([]models.RankedChoice, len(order))
	for i, idx := range order {
		choices[i] = models.RankedChoice{Option: inst.Options[idx].ID, Rank: i + 1}
	}
	return ballotFor(inst, models.NewRanked(choices))
}

func repeat(n int, b func() *models.Ballot) []*models.Ballot {
	out := make([]*models.Ballot, n)
	for i := range out {
		out[i] = b()
	}
	return out
}

func TestFirstPreference(t *testing.T) {
	inst := newInstance(models.TypeRanked, "A", "B", "C")
	inst.RankedMethod = models.RankedFirstPreference
	var ballots []*models.Ballot
	ballots = append(ballots, repeat(4, func() *models.Ballot { return ranked(inst, 0, 1) })...)
	ballots = append(ballots, repeat(3, func() *models.Ballot { return ranked(inst, 1, 0) })...)
	ballots = append(ballots, repeat(2, func() *models.Ballot { return ranked(inst, 2, 1) })...)

	tab := Compute(Input{Instance: inst, Ballots: ballots, Now: calcTime})
	assert.Equal(t, models.MethodFirstPreference, tab.Summary.Method)
	assert.Equal(t, int64(4), byTitle(tab)["A"].VotesCount)
	assert.True(t, byTitle(tab)["A"].IsWinner)
	assert.Empty(t, tab.Summary.Rounds)
}

func TestInstantRunoffTransfersVotes(t *testing.T) {
	inst := newInstance(models.TypeRanked, "A", "B", "C")
	inst.RankedMethod = models.RankedInstantRunoff
	var ballots []*models.Ballot
	ballots = append(ballots, repeat(4, func() *models.Ballot { return ranked(inst, 0, 1) })...)
	ballots = append(ballots, repeat(3, func() *models.Ballot { return ranked(inst, 1, 0) })...)
	ballots = append(ballots, repeat(2, func() *models.Ballot { return ranked(inst, 2, 1) })...)

	tab := Compute(Input{Instance: inst, Ballots: ballots, Now: calcTime})
	res := byTitle(tab)

	require.Len(t, tab.Summary.Rounds, 2)
	assert.Equal(t, []id.OptionID{inst.Options[2].ID}, tab.Summary.Rounds[0].Eliminated)
	assert.True(t, res["B"].IsWinner)
	assert.Equal(t, int64(5), res["B"].VotesCount)
	assert.Equal(t, "55.56", res["B"].Percentage.String())
	assert.Equal(t, int64(0), res["C"].VotesCount)
	assert.Equal(t, 1, res["C"].Statistics.EliminatedInRound)
	assert.Equal(t, meaningFinalRound, res["B"].Statistics.VotesMeaning)
	assert.Equal(t, models.MethodInstantRunoff, tab.Summary.Method)
}

func TestInstantRunoffExhaustedBallots(t *testing.T) {
	inst := newInstance(models.TypeRanked, "A", "B", "C")
	inst.RankedMethod = models.RankedInstantRunoff
	var ballots []*models.Ballot
	ballots = append(ballots, repeat(4, func() *models.Ballot { return ranked(inst, 0) })...)
	ballots = append(ballots, repeat(3, func() *models.Ballot { return ranked(inst, 1) })...)
	ballots = append(ballots, repeat(2, func() *models.Ballot { return ranked(inst, 2) })...)

	tab := Compute(Input{Instance: inst, Ballots: ballots, Now: calcTime})
	require.Len(t, tab.Summary.Rounds, 2)
	assert.Equal(t, int64(2), tab.Summary.Rounds[1].Exhausted)
	// 4 of 7 continuing ballots.
	assert.Equal(t, "57.14", byTitle(tab)["A"].Percentage.String())
	assert.True(t, byTitle(tab)["A"].IsWinner)
}

func TestInstantRunoffFullTie(t *testing.T) {
	inst := newInstance(models.TypeRanked, "A", "B")
	inst.RankedMethod = models.RankedInstantRunoff
	ballots := []*models.Ballot{ranked(inst, 0, 1), ranked(inst, 1, 0)}

	tab := Compute(Input{Instance: inst, Ballots: ballots, Now: calcTime})
	assert.True(t, tab.Summary.IsTie)
	assert.Len(t, tab.Summary.Rounds, 1)
}
