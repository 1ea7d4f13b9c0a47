package outreach

import (
	"sort"

	"github.com/google/uuid"

	"github.com/stagehand/stagehand/internal/models"
)

// SelectionInput is everything candidate ranking needs. Loading the pools is
// the caller's job so ranking stays a pure function.
type SelectionInput struct {
	// Preferred is the curated list for the booking's locale/category,
	// already in list order.
	Preferred []models.Supplier
	// Fallback is the broader candidate pool; ranking orders it by
	// reliability.
	Fallback []models.Supplier
	// Override short-circuits ranking: when set, that supplier alone is
	// selected.
	Override *models.Supplier
	// Exclude removes already-contacted suppliers from consideration.
	Exclude []uuid.UUID
	// MaxFanout caps how many candidates are returned.
	MaxFanout int
}

// RankCandidates returns the ordered candidate list for an outreach round:
// the preferred list first, topped up from the fallback pool by descending
// reliability, capped at MaxFanout. An empty result means there is nobody
// left to contact; callers treat that as a terminal condition, not an error.
func RankCandidates(in SelectionInput) []models.Supplier {
	if in.Override != nil {
		for _, id := range in.Exclude {
			if id == in.Override.ID {
				return nil
			}
		}
		return []models.Supplier{*in.Override}
	}

	max := in.MaxFanout
	if max <= 0 {
		return nil
	}

	excluded := make(map[uuid.UUID]bool, len(in.Exclude))
	for _, id := range in.Exclude {
		excluded[id] = true
	}

	var selected []models.Supplier
	seen := make(map[uuid.UUID]bool)

	for _, s := range in.Preferred {
		if len(selected) == max {
			return selected
		}
		if excluded[s.ID] || seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		selected = append(selected, s)
	}

	fallback := make([]models.Supplier, len(in.Fallback))
	copy(fallback, in.Fallback)
	sort.SliceStable(fallback, func(i, j int) bool {
		if fallback[i].Reliability != fallback[j].Reliability {
			return fallback[i].Reliability > fallback[j].Reliability
		}
		return fallback[i].Name < fallback[j].Name
	})

	for _, s := range fallback {
		if len(selected) == max {
			break
		}
		if excluded[s.ID] || seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		selected = append(selected, s)
	}

	return selected
}
