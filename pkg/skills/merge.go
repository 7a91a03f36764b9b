package skills

import (
	"strings"

	"github.com/ravenlabs/raven/pkg/store"
)

// MergeParameters unions parameters by name, incoming first, capped.
func MergeParameters(existing, incoming []store.Parameter, maxParams int) []store.Parameter {
	var merged []store.Parameter
	seen := map[string]struct{}{}
	for _, param := range append(append([]store.Parameter{}, incoming...), existing...) {
		if param.Name == "" {
			continue
		}
		if _, dup := seen[param.Name]; dup {
			continue
		}
		seen[param.Name] = struct{}{}
		merged = append(merged, param)
		if len(merged) >= maxParams {
			break
		}
	}
	return merged
}

// MergeStringLists unions lists case-insensitively, incoming first.
func MergeStringLists(existing, incoming []string, maxItems, maxLen int) []string {
	var merged []string
	seen := map[string]struct{}{}
	for _, item := range append(append([]string{}, incoming...), existing...) {
		trimmed := ClampText(item, maxLen)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, trimmed)
		if len(merged) >= maxItems {
			break
		}
	}
	return merged
}

// MergeExamples unions examples by user input, incoming first.
func MergeExamples(existing, incoming []store.Example, maxExamples int) []store.Example {
	var merged []store.Example
	seen := map[string]struct{}{}
	for _, example := range append(append([]store.Example{}, incoming...), existing...) {
		if example.UserInput == "" {
			continue
		}
		if _, dup := seen[example.UserInput]; dup {
			continue
		}
		seen[example.UserInput] = struct{}{}
		merged = append(merged, example)
		if len(merged) >= maxExamples {
			break
		}
	}
	return merged
}
