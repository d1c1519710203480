// Package router implements the Complexity Router (spec §4.C): scoring a
// task, mapping it to a tier, and picking a primary or fallback provider
// slot.
package router

import (
	"strings"

	"ralph/internal/models"
)

var complexityKeywords = []string{
	"refactor", "migration", "architecture", "redesign", "rewrite",
	"security", "authentication", "authorization", "performance",
	"database", "schema", "integration", "api design", "state management",
}

var simplicityKeywords = []string{
	"typo", "tooltip", "color", "padding", "margin", "spacing", "rename",
	"comment", "documentation", "readme", "copy", "icon", "label", "text",
	"string", "css", "style",
}

// ScoreComplexity is a pure function: score(item) is deterministic and
// clamped to [0,100] (spec §8).
func ScoreComplexity(item models.BacklogItem) int {
	switch item.ComplexityHint {
	case models.ComplexityLow:
		return 20
	case models.ComplexityMedium:
		return 50
	case models.ComplexityHigh:
		return 80
	}

	score := 50

	switch item.Priority {
	case models.PriorityHigh:
		score += 10
	case models.PriorityLow:
		score -= 10
	}

	descLen := len(item.Description)
	switch {
	case descLen > 500:
		score += 15
	case descLen > 200:
		score += 5
	case descLen < 50:
		score -= 10
	}

	criteriaCount := len(item.AcceptanceCriteria)
	switch {
	case criteriaCount > 8:
		score += 15
	case criteriaCount > 4:
		score += 5
	case criteriaCount <= 1:
		score -= 10
	}

	if item.EstimatedHours != nil {
		h := *item.EstimatedHours
		switch {
		case h >= 4:
			score += 20
		case h >= 2:
			score += 10
		case h < 0.5:
			score -= 15
		}
	}

	if len(item.Judges) > 0 {
		score += 10
	}

	haystack := strings.ToLower(item.Description + " " + item.Name)
	for _, kw := range complexityKeywords {
		if strings.Contains(haystack, kw) {
			score += 8
			break
		}
	}
	for _, kw := range simplicityKeywords {
		if strings.Contains(haystack, kw) {
			score -= 8
			break
		}
	}

	if len(item.DependsOn) > 2 {
		score += 10
	}

	return clamp(score, 0, 100)
}

// ScoreToTier maps a clamped complexity score to a tier (spec §4.C, §8).
func ScoreToTier(score int) models.Tier {
	switch {
	case score < 40:
		return models.TierLow
	case score < 70:
		return models.TierMedium
	default:
		return models.TierHigh
	}
}

// Escalate advances a tier one step: low->medium->high->high.
func Escalate(t models.Tier) models.Tier {
	switch t {
	case models.TierLow:
		return models.TierMedium
	case models.TierMedium:
		return models.TierHigh
	default:
		return models.TierHigh
	}
}

// tierFloor is the minimum score consistent with a tier, used to keep
// diagnostics consistent when escalation raises the tier above what the raw
// score would give (spec §4.C).
func tierFloor(t models.Tier) int {
	switch t {
	case models.TierMedium:
		return 40
	case models.TierHigh:
		return 70
	default:
		return 0
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// BuildFactoryTask scores item, maps it to a tier, applies escalateOnRetry
// retryCount times, and raises the score to the escalated tier's floor if
// escalation outran the raw score (spec §4.C).
func BuildFactoryTask(item models.BacklogItem, prdFilePath, prdCategory string, retryCount int, escalateOnRetry bool) models.FactoryTask {
	score := ScoreComplexity(item)
	tier := ScoreToTier(score)

	if escalateOnRetry {
		for i := 0; i < retryCount; i++ {
			tier = Escalate(tier)
		}
		if floor := tierFloor(tier); floor > score {
			score = floor
		}
	}

	return models.NewFactoryTask(item, prdFilePath, prdCategory, score, tier, retryCount)
}
