// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package daemon

import "strings"

// parseVerdict maps raw validator output onto a (valid, confidence) tuple.
// Exact matches score highest, a one-sided substring match scores lower,
// and anything ambiguous resolves to invalid with low confidence.
func parseVerdict(raw string) (bool, float64) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	normalized = strings.Trim(normalized, ".!\"'")

	switch normalized {
	case "YES":
		return true, 0.95
	case "NO":
		return false, 0.95
	}

	hasYes := strings.Contains(normalized, "YES")
	hasNo := strings.Contains(normalized, "NO")
	switch {
	case hasYes && !hasNo:
		return true, 0.7
	case hasNo && !hasYes:
		return false, 0.7
	}
	return false, 0.3
}
