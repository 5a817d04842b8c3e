// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gamestate

import "strings"

// Section tags the creation prompt instructs the model to emit. Lines
// headed by one of these switch the partitioner into that section; the
// section holds until the next tag.
var (
	worldTags = []string{
		"Game Title:",
		"World Description:",
		"World Lore:",
		"Objectives:",
		"Win Conditions:",
		"Game Rules:",
	}
	stateTags = []string{
		"Current Situation:",
		"Location:",
		"Starting Status:",
	}

	// stateKeywords classify untagged content that precedes any tag.
	stateKeywords = []string{
		"you have",
		"inventory",
		"health",
		"score",
	}
)

// Partition splits free-form creation narrative into the immutable world
// text and the initial state text. The classification is heuristic; the
// creation prompt biases the model toward the tags above, but output that
// ignores them still lands somewhere.
func Partition(narrative string) (string, string) {
	var world, state []string
	// 0 = undecided, 1 = world, 2 = state
	section := 0

	for _, line := range strings.Split(narrative, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case headedBy(trimmed, worldTags):
			section = 1
			world = append(world, line)
		case headedBy(trimmed, stateTags):
			section = 2
			state = append(state, line)
		case section == 1:
			world = append(world, line)
		case section == 2:
			state = append(state, line)
		case trimmed == "":
			// Leading blank lines belong nowhere.
		case stateLike(trimmed):
			state = append(state, line)
		default:
			world = append(world, line)
		}
	}

	return strings.TrimSpace(strings.Join(world, "\n")),
		strings.TrimSpace(strings.Join(state, "\n"))
}

func headedBy(line string, tags []string) bool {
	for _, tag := range tags {
		if strings.HasPrefix(line, tag) {
			return true
		}
	}
	return false
}

func stateLike(line string) bool {
	lower := strings.ToLower(line)
	for _, keyword := range stateKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}
