package tabulation

import (
	"unionvote/internal/voting/models"
	id "unionvote/pkg/domain"
)

// instantRunoff counts ranked ballots in rounds. Each round every ballot
// counts for its highest-ranked continuing option; counting stops when an
// option holds a strict majority of continuing ballots or every remaining
// option is tied. Otherwise all options tied for fewest votes are
// eliminated together.
//
// votes_count is the final-round count, so eliminated options hold zero
// and report their round in EliminatedInRound. The shared denominator is
// the number of ballots still continuing in the final round.
func instantRunoff(inst *models.Instance, votes []*models.Ballot) tally {
	t := tally{
		method:     models.MethodInstantRunoff,
		meaning:    meaningFinalRound,
		counts:     make(map[id.OptionID]int64, len(inst.Options)),
		eliminated: make(map[id.OptionID]int),
	}
	continuing := make(map[id.OptionID]bool, len(inst.Options))
	for _, opt := range inst.Options {
		continuing[opt.ID] = true
	}

	for round := 1; ; round++ {
		counts := make(map[id.OptionID]int64, len(continuing))
		for optionID := range continuing {
			counts[optionID] = 0
		}
		var active, exhausted int64
		for _, b := range votes {
			top, ok := topContinuing(b.Selection, continuing)
			if !ok {
				exhausted++
				continue
			}
			counts[top]++
			active++
		}

		var lowest, highest int64 = -1, -1
		for _, n := range counts {
			if lowest < 0 || n < lowest {
				lowest = n
			}
			if n > highest {
				highest = n
			}
		}

		rec := models.RunoffRound{Round: round, Counts: counts, Exhausted: exhausted}
		done := len(continuing) <= 1 || active == 0 || highest*2 > active || lowest == highest
		if !done {
			for _, opt := range inst.Options {
				if continuing[opt.ID] && counts[opt.ID] == lowest {
					rec.Eliminated = append(rec.Eliminated, opt.ID)
				}
			}
		}
		t.rounds = append(t.rounds, rec)

		if done {
			for optionID, n := range counts {
				t.counts[optionID] = n
			}
			t.total = active
			return t
		}
		for _, optionID := range rec.Eliminated {
			t.eliminated[optionID] = round
			delete(continuing, optionID)
		}
	}
}

func topContinuing(sel models.Selection, continuing map[id.OptionID]bool) (id.OptionID, bool) {
	for _, optionID := range sel.OptionIDs() {
		if continuing[optionID] {
			return optionID, true
		}
	}
	return id.OptionID{}, false
}
