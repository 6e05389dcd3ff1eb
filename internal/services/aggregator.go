package services

import (
	"sort"

	"github.com/shanehokw/ranker/internal/models"
)

// ComputeResults scores submitted ballots with positional (Borda-style)
// weighting: in a ballot of effective length L, the first pick earns L
// points, the second L-1, down to 1 for the last. Nominations nobody ranked
// are omitted. Output is sorted by score descending, ties broken by
// nomination creation order.
//
// Pure function of its inputs: no side effects, deterministic regardless of
// map iteration order, safe to re-run.
func ComputeResults(nominations models.Nominations, rankings models.Rankings) []models.Result {
	scores := make(map[string]int)

	for _, ballot := range rankings {
		// Drop duplicates and references to nominations that no longer
		// exist before weighting, so a stale entry neither scores nor
		// shifts the weight of the picks below it.
		valid := make([]string, 0, len(ballot))
		seen := make(map[string]bool, len(ballot))
		for _, nominationID := range ballot {
			if seen[nominationID] {
				continue
			}
			seen[nominationID] = true
			if _, ok := nominations[nominationID]; !ok {
				continue
			}
			valid = append(valid, nominationID)
		}

		weight := len(valid)
		for _, nominationID := range valid {
			scores[nominationID] += weight
			weight--
		}
	}

	results := make([]models.Result, 0, len(scores))
	for nominationID, score := range scores {
		if score <= 0 {
			continue
		}
		results = append(results, models.Result{
			NominationID:   nominationID,
			NominationText: nominations[nominationID].Text,
			Score:          score,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return nominations[results[i].NominationID].Order < nominations[results[j].NominationID].Order
	})

	return results
}
