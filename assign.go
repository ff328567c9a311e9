package main

import (
	"math/rand/v2"
)

// Assignment is one player's share of a round's secret material.
type Assignment struct {
	Name string
	Role Role
	Word string
}

// assignRoles partitions names into the three role categories for one
// round. The first shuffle decides who lands in which category; the
// second hides category from list position before the roster is shown
// anywhere (avatar order, speaking order). Settings were validated when
// the room was configured, so the majority remainder is trusted to be
// at least two here.
func assignRoles(names []string, settings RoomSettings, words WordPair) []Assignment {
	shuffled := make([]string, len(names))
	copy(shuffled, names)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	assignments := make([]Assignment, 0, len(shuffled))
	for i, name := range shuffled {
		switch {
		case i < settings.MinorityCount:
			assignments = append(assignments, Assignment{Name: name, Role: RoleMinority, Word: words.MinorityWord})
		case i < settings.MinorityCount+settings.WildcardCount:
			assignments = append(assignments, Assignment{Name: name, Role: RoleWildcard})
		default:
			assignments = append(assignments, Assignment{Name: name, Role: RoleMajority, Word: words.MajorityWord})
		}
	}

	rand.Shuffle(len(assignments), func(i, j int) {
		assignments[i], assignments[j] = assignments[j], assignments[i]
	})

	return assignments
}

// speakingOrder returns the given names in a fresh uniform order.
func speakingOrder(names []string) []string {
	order := make([]string, len(names))
	copy(order, names)
	rand.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})
	return order
}
