package outreach

import (
	"testing"

	"github.com/google/uuid"

	"github.com/stagehand/stagehand/internal/models"
)

func supplierNamed(name string, reliability float64) models.Supplier {
	return models.Supplier{ID: uuid.New(), Name: name, Reliability: reliability}
}

func namesOf(suppliers []models.Supplier) []string {
	names := make([]string, 0, len(suppliers))
	for _, s := range suppliers {
		names = append(names, s.Name)
	}
	return names
}

func TestRankCandidatesPreferredFirstThenReliability(t *testing.T) {
	preferred := []models.Supplier{
		supplierNamed("alpha", 0.2),
		supplierNamed("beta", 0.1),
	}
	fallback := []models.Supplier{
		supplierNamed("low", 0.3),
		supplierNamed("high", 0.9),
		supplierNamed("mid", 0.5),
	}

	got := RankCandidates(SelectionInput{
		Preferred: preferred,
		Fallback:  fallback,
		MaxFanout: 4,
	})

	want := []string{"alpha", "beta", "high", "mid"}
	names := namesOf(got)
	if len(names) != len(want) {
		t.Fatalf("expected %d candidates, got %v", len(want), names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], names[i])
		}
	}
}

func TestRankCandidatesCapsAtMaxFanout(t *testing.T) {
	fallback := []models.Supplier{
		supplierNamed("a", 0.9),
		supplierNamed("b", 0.8),
		supplierNamed("c", 0.7),
		supplierNamed("d", 0.6),
	}

	got := RankCandidates(SelectionInput{Fallback: fallback, MaxFanout: 2})
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].Name != "a" || got[1].Name != "b" {
		t.Errorf("expected top two by reliability, got %v", namesOf(got))
	}
}

func TestRankCandidatesExcludesContacted(t *testing.T) {
	a := supplierNamed("a", 0.9)
	b := supplierNamed("b", 0.8)

	got := RankCandidates(SelectionInput{
		Preferred: []models.Supplier{a},
		Fallback:  []models.Supplier{a, b},
		Exclude:   []uuid.UUID{a.ID},
		MaxFanout: 3,
	})
	if len(got) != 1 || got[0].Name != "b" {
		t.Fatalf("expected only b, got %v", namesOf(got))
	}
}

func TestRankCandidatesDeduplicatesAcrossPools(t *testing.T) {
	shared := supplierNamed("shared", 0.5)
	got := RankCandidates(SelectionInput{
		Preferred: []models.Supplier{shared},
		Fallback:  []models.Supplier{shared, supplierNamed("other", 0.4)},
		MaxFanout: 3,
	})
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %v", namesOf(got))
	}
	if got[0].Name != "shared" || got[1].Name != "other" {
		t.Errorf("unexpected ordering: %v", namesOf(got))
	}
}

func TestRankCandidatesOverride(t *testing.T) {
	override := supplierNamed("chosen", 0.1)
	got := RankCandidates(SelectionInput{
		Preferred: []models.Supplier{supplierNamed("ignored", 0.9)},
		Override:  &override,
		MaxFanout: 3,
	})
	if len(got) != 1 || got[0].ID != override.ID {
		t.Fatalf("expected override only, got %v", namesOf(got))
	}
}

func TestRankCandidatesOverrideExcluded(t *testing.T) {
	override := supplierNamed("chosen", 0.1)
	got := RankCandidates(SelectionInput{
		Override:  &override,
		Exclude:   []uuid.UUID{override.ID},
		MaxFanout: 3,
	})
	if got != nil {
		t.Fatalf("expected no candidates, got %v", namesOf(got))
	}
}

func TestRankCandidatesEmptyPoolsIsNotAnError(t *testing.T) {
	got := RankCandidates(SelectionInput{MaxFanout: 3})
	if len(got) != 0 {
		t.Fatalf("expected empty result, got %v", namesOf(got))
	}
}

func TestRankCandidatesReliabilityTieBreaksByName(t *testing.T) {
	got := RankCandidates(SelectionInput{
		Fallback: []models.Supplier{
			supplierNamed("zeta", 0.5),
			supplierNamed("acme", 0.5),
		},
		MaxFanout: 2,
	})
	if got[0].Name != "acme" || got[1].Name != "zeta" {
		t.Errorf("expected name tie-break, got %v", namesOf(got))
	}
}
