// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import "strings"

// computeMatchScore scores a symbol name against a query.
//
// Description:
//
//	Score = base_score * 10000 +
//	        position_penalty * 100 +
//	        length_penalty * 10 +
//	        kind_penalty
//
//	Lower is better; -1 means no match. Base score ranks the match type:
//	0 exact, 1 prefix, 2 camelCase word boundary, 3 substring, 4 fuzzy
//	(Levenshtein within a third of the query length). Position prefers
//	matches near the start of the name, length prefers names close to the
//	query's length, and the kind digit prefers exported functions and
//	methods over types and then variables.
//
// Outputs:
//
//	score - composite score, or -1 for no match.
//	matchType - the matched tier, for tests and debugging.
func computeMatchScore(queryLower, name, nameLower, kind string, exported bool) (int, string) {
	var baseScore int
	var matchType string
	var matchPos int

	switch {
	case nameLower == queryLower:
		return 0, "exact"
	case strings.HasPrefix(nameLower, queryLower):
		baseScore = 1
		matchType = "prefix"
	default:
		if pos := findCamelCaseWordMatch(name, queryLower); pos >= 0 {
			baseScore = 2
			matchType = "camelCase"
			matchPos = pos
		} else if pos := strings.Index(nameLower, queryLower); pos >= 0 {
			baseScore = 3
			matchType = "substring"
			matchPos = pos
		} else {
			threshold := max(2, len(queryLower)/3)
			if levenshteinDistance(nameLower, queryLower) > threshold {
				return -1, "no_match"
			}
			baseScore = 4
			matchType = "fuzzy"
		}
	}

	positionPenalty := 0
	if len(name) > 0 && matchPos > 0 {
		positionPenalty = min(99, (matchPos*100)/len(name))
	}

	lengthDiff := len(name) - len(queryLower)
	if lengthDiff < 0 {
		lengthDiff = -lengthDiff
	}
	lengthPenalty := min(99, lengthDiff)

	kindPenalty := getKindPenalty(kind)
	if !exported {
		kindPenalty = min(9, kindPenalty+5)
	}

	score := baseScore*10000 +
		positionPenalty*100 +
		lengthPenalty*10 +
		kindPenalty

	return score, matchType
}

// findCamelCaseWordMatch reports where the query matches a word boundary in
// a camelCase or snake_case name, or -1. "process" matches "getDatesToProcess"
// at 11 but not "Unprocessed", which has no boundary before the p.
func findCamelCaseWordMatch(name, queryLower string) int {
	if len(queryLower) == 0 || len(name) == 0 {
		return -1
	}
	for i := 0; i < len(name); i++ {
		boundary := i == 0 ||
			(isUpper(name[i]) && !isUpper(name[i-1])) ||
			!isLetter(name[i-1])
		if !boundary {
			continue
		}
		if i+len(queryLower) > len(name) {
			break
		}
		if strings.ToLower(name[i:i+len(queryLower)]) != queryLower {
			continue
		}
		end := i + len(queryLower)
		if end == len(name) || isUpper(name[end]) || !isLetter(name[end]) {
			return i
		}
	}
	return -1
}

// getKindPenalty prefers callable symbols, then types, then data.
func getKindPenalty(kind string) int {
	switch kind {
	case "function", "method":
		return 0
	case "type", "class", "interface":
		return 1
	case "const", "var":
		return 2
	default:
		return 4
	}
}

func isUpper(c byte) bool { return c >= 'A' && c <= 'Z' }

func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// levenshteinDistance is the edit distance between two strings, two-row
// implementation.
func levenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
