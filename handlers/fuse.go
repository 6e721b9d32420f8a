package handlers

import (
	"sort"

	"github.com/Perceptus-Labs/perceptus-agent/models"
)

// fuseOptimizations merges a backend result with the local one. The higher
// scoring variant wins (ties go to the backend) and success requires both.
func fuseOptimizations(remote, local models.OptimizationResult) models.OptimizationResult {
	fused := models.OptimizationResult{
		OriginalScript:  remote.OriginalScript,
		OptimizedScript: remote.OptimizedScript,
		Score:           remote.Score,
		IsSuccessful:    remote.IsSuccessful && local.IsSuccessful,
	}
	if local.Score > remote.Score {
		fused.OptimizedScript = local.OptimizedScript
		fused.Score = local.Score
	}
	if fused.OriginalScript == "" {
		fused.OriginalScript = local.OriginalScript
	}

	fused.Improvements = make([]models.Improvement, 0, len(remote.Improvements)+len(local.Improvements))
	fused.Improvements = append(fused.Improvements, remote.Improvements...)
	fused.Improvements = append(fused.Improvements, local.Improvements...)

	fused.Suggestions = mergeSuggestions(remote.Suggestions, local.Suggestions)
	fused.Warnings = unionStrings(remote.Warnings, local.Warnings)
	return fused
}

// mergeSuggestions concatenates the lists keeping the first suggestion for
// every title.
func mergeSuggestions(lists ...[]models.Suggestion) []models.Suggestion {
	seen := make(map[string]struct{})
	out := []models.Suggestion{}
	for _, list := range lists {
		for _, s := range list {
			if _, ok := seen[s.Title]; ok {
				continue
			}
			seen[s.Title] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

func sortByPriority(suggestions []models.Suggestion) {
	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Priority > suggestions[j].Priority
	})
}

func unionStrings(lists ...[]string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, list := range lists {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
