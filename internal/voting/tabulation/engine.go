// Package tabulation computes result sets from the current ballots of an
// instance.
//
// Compute is pure: given the same instance, ballots and eligible count it
// returns the same results apart from CalculatedAt. Service adds locking,
// persistence and optimistic retry around it.
package tabulation

import (
	"math"
	"sort"
	"time"

	"unionvote/internal/voting/models"
	id "unionvote/pkg/domain"
)

// Input is everything a tabulation depends on.
type Input struct {
	Instance *models.Instance
	// Ballots are the current ballots, abstentions included.
	Ballots  []*models.Ballot
	Eligible int64
	Now      time.Time
}

const (
	meaningSelections      = "ballots_selecting_option"
	meaningFirstPreference = "first_preference_ballots"
	meaningFinalRound      = "final_round_ballots"
)

// tally is the count stage output: per-option counts over a shared
// denominator.
type tally struct {
	method     string
	meaning    string
	counts     map[id.OptionID]int64
	total      int64
	rounds     []models.RunoffRound
	eliminated map[id.OptionID]int
}

func Compute(in Input) *models.Tabulation {
	inst := in.Instance
	var abstentions int64
	votes := make([]*models.Ballot, 0, len(in.Ballots))
	for _, b := range in.Ballots {
		if b.IsAbstention || b.Selection == nil {
			abstentions++
			continue
		}
		votes = append(votes, b)
	}

	t := count(inst, votes)
	results := rank(inst, t, in.Now)

	summary := models.Summary{
		Method:           t.method,
		TotalBallots:     int64(len(in.Ballots)),
		TotalAbstentions: abstentions,
		TotalVotes:       int64(len(votes)),
		TotalEligible:    in.Eligible,
		QuorumRequired:   inst.Quorum.Required,
		QuorumPercentage: inst.Quorum.Percentage,
		Voided:           inst.VoidsResults(),
		Rounds:           t.rounds,
		CalculatedAt:     in.Now,
	}
	summary.ParticipationRate = models.PercentOf(summary.TotalBallots, in.Eligible).Clamp()
	summary.QuorumReached = !inst.Quorum.Required || summary.ParticipationRate >= inst.Quorum.Percentage
	for _, r := range results {
		if r.IsWinner {
			summary.Winners = append(summary.Winners, r.OptionID)
		}
	}
	summary.IsTie = len(summary.Winners) > 1

	return &models.Tabulation{VotingID: inst.ID, Summary: summary, Results: results}
}

func count(inst *models.Instance, votes []*models.Ballot) tally {
	t := tally{
		counts: make(map[id.OptionID]int64, len(inst.Options)),
		total:  int64(len(votes)),
	}
	for _, opt := range inst.Options {
		t.counts[opt.ID] = 0
	}

	switch inst.Type {
	case models.TypeRanked:
		if inst.RankedMethod == models.RankedInstantRunoff {
			return instantRunoff(inst, votes)
		}
		t.method, t.meaning = models.MethodFirstPreference, meaningFirstPreference
		for _, b := range votes {
			if ids := b.Selection.OptionIDs(); len(ids) > 0 {
				t.counts[ids[0]]++
			}
		}
		return t
	case models.TypeMultiple:
		t.method = models.MethodMultipleChoice
	case models.TypeApproval:
		t.method = models.MethodApproval
	default:
		t.method = models.MethodPlurality
	}
	t.meaning = meaningSelections
	for _, b := range votes {
		for _, optionID := range b.Selection.OptionIDs() {
			t.counts[optionID]++
		}
	}
	return t
}

// rank orders options by votes and assigns standard competition ranking.
// Display order within a tie puts later runoff eliminations first, then
// follows sort_order and option ID.
func rank(inst *models.Instance, t tally, now time.Time) []models.ResultSnapshot {
	results := make([]models.ResultSnapshot, 0, len(inst.Options))
	for _, opt := range inst.Options {
		results = append(results, models.ResultSnapshot{
			VotingID:     inst.ID,
			OptionID:     opt.ID,
			OptionTitle:  opt.Title,
			SortOrder:    opt.SortOrder,
			VotesCount:   t.counts[opt.ID],
			Percentage:   models.PercentOf(t.counts[opt.ID], t.total),
			CalculatedAt: now,
			Statistics: models.Statistics{
				Method:            t.method,
				VotesMeaning:      t.meaning,
				EliminatedInRound: t.eliminated[opt.ID],
			},
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.VotesCount != b.VotesCount {
			return a.VotesCount > b.VotesCount
		}
		if ea, eb := a.Statistics.EliminatedInRound, b.Statistics.EliminatedInRound; ea != eb {
			// Continuing options (0) first, then later eliminations.
			return ea == 0 || (eb != 0 && ea > eb)
		}
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		return a.OptionID.String() < b.OptionID.String()
	})

	for i := range results {
		if i > 0 && results[i].VotesCount == results[i-1].VotesCount {
			results[i].RankingPosition = results[i-1].RankingPosition
		} else {
			results[i].RankingPosition = i + 1
		}
	}

	if t.total > 0 {
		winners := 0
		for i := range results {
			if results[i].RankingPosition == 1 {
				results[i].IsWinner = true
				winners++
			}
		}
		if winners == 1 {
			margin := results[0].Percentage
			if len(results) > 1 {
				margin -= results[1].Percentage
			}
			results[0].MarginOfVictory = margin
		}
	}

	level := inst.ConfidenceLevel
	if level != models.Confidence99 {
		level = models.Confidence95
	}
	if t.total >= models.MinSampleForInterval {
		for i := range results {
			moe, interval := confidenceInterval(results[i].VotesCount, t.total, level)
			results[i].Statistics.ConfidenceLevel = level
			results[i].Statistics.MarginOfError = &moe
			results[i].Statistics.ConfidenceInterval = &interval
		}
	}
	return results
}

// confidenceInterval is the normal-approximation (Wald) interval for one
// option's share, in percentage points.
func confidenceInterval(votes, n int64, level int) (models.Percentage, models.Interval) {
	z := 1.96
	if level == models.Confidence99 {
		z = 2.58
	}
	p := float64(votes) / float64(n)
	moe := models.PercentFromFloat(z * math.Sqrt(p*(1-p)/float64(n)) * 100)
	pct := models.PercentOf(votes, n)
	return moe, models.Interval{
		Lower: (pct - moe).Clamp(),
		Upper: (pct + moe).Clamp(),
	}
}
