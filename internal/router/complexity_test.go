package router

import (
	"strings"
	"testing"

	"ralph/internal/models"
)

func TestScoreComplexityClampedAndDeterministic(t *testing.T) {
	item := models.BacklogItem{
		Name:               "Redesign the authentication schema",
		Description:        strings.Repeat("x", 600),
		Priority:           models.PriorityHigh,
		AcceptanceCriteria: []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"},
		Judges:             []string{"security"},
		DependsOn:          []string{"a", "b", "c"},
	}
	hours := 6.0
	item.EstimatedHours = &hours

	score := ScoreComplexity(item)
	if score < 0 || score > 100 {
		t.Fatalf("score %d out of [0,100]", score)
	}
	if score != 100 {
		t.Fatalf("expected every booster to saturate the clamp at 100, got %d", score)
	}

	again := ScoreComplexity(item)
	if again != score {
		t.Fatalf("ScoreComplexity is not deterministic: %d != %d", score, again)
	}
}

func TestScoreComplexityHintShortCircuits(t *testing.T) {
	cases := map[models.Complexity]int{
		models.ComplexityLow:    20,
		models.ComplexityMedium: 50,
		models.ComplexityHigh:   80,
	}
	for hint, want := range cases {
		item := models.BacklogItem{ComplexityHint: hint, Description: strings.Repeat("x", 1000)}
		if got := ScoreComplexity(item); got != want {
			t.Errorf("hint %q: got %d, want %d", hint, got, want)
		}
	}
}

func TestScoreComplexityMinimalItemScoresLow(t *testing.T) {
	item := models.BacklogItem{
		Name:        "rename label",
		Description: "fix a typo",
		Priority:    models.PriorityLow,
	}
	if got := ScoreComplexity(item); got >= 40 {
		t.Errorf("expected a trivial item to score below the medium-tier threshold, got %d", got)
	}
}

func TestScoreComplexityNeverGoesNegative(t *testing.T) {
	half := 0.1
	item := models.BacklogItem{
		Name:        "css tweak",
		Description: "typo",
		Priority:    models.PriorityLow,
		EstimatedHours: &half,
	}
	if got := ScoreComplexity(item); got < 0 {
		t.Errorf("expected score to clamp at 0, got %d", got)
	}
}

func TestScoreToTierBoundaries(t *testing.T) {
	cases := []struct {
		score int
		want  models.Tier
	}{
		{0, models.TierLow},
		{39, models.TierLow},
		{40, models.TierMedium},
		{69, models.TierMedium},
		{70, models.TierHigh},
		{100, models.TierHigh},
	}
	for _, c := range cases {
		if got := ScoreToTier(c.score); got != c.want {
			t.Errorf("ScoreToTier(%d) = %q, want %q", c.score, got, c.want)
		}
	}
}

func TestEscalateMonotonicAndCapsAtHigh(t *testing.T) {
	seq := []models.Tier{models.TierLow}
	cur := models.TierLow
	for i := 0; i < 4; i++ {
		cur = Escalate(cur)
		seq = append(seq, cur)
	}
	for i := 1; i < len(seq); i++ {
		if seq[i].Rank() < seq[i-1].Rank() {
			t.Fatalf("escalation went backwards: %v", seq)
		}
	}
	if cur != models.TierHigh {
		t.Errorf("expected escalation to saturate at high, got %q", cur)
	}
}

func TestBuildFactoryTaskEscalatesOnRetryAndRaisesFloor(t *testing.T) {
	item := models.BacklogItem{
		Name:        "tweak copy",
		Description: "fix a typo in the label",
		Priority:    models.PriorityLow,
	}

	base := BuildFactoryTask(item, "prd.json", "ui", 0, true)
	if base.Tier != models.TierLow {
		t.Fatalf("expected low tier for a trivial item, got %q", base.Tier)
	}

	escalated := BuildFactoryTask(item, "prd.json", "ui", 2, true)
	if escalated.Tier != models.TierHigh {
		t.Fatalf("expected two escalations from low to reach high, got %q", escalated.Tier)
	}
	if escalated.ComplexityScore < tierFloor(models.TierHigh) {
		t.Errorf("escalated score %d below high tier's floor %d", escalated.ComplexityScore, tierFloor(models.TierHigh))
	}

	notEscalated := BuildFactoryTask(item, "prd.json", "ui", 2, false)
	if notEscalated.Tier != models.TierLow {
		t.Errorf("escalateOnRetry=false should leave tier unescalated, got %q", notEscalated.Tier)
	}
}
