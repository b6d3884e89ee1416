// Package celebrate decides when a streak badge is shown and with which
// animation tier.
package celebrate

import "github.com/felixgeelhaar/cadence/internal/domain"

// Milestones are the streak lengths that get the milestone animation.
var Milestones = []int{5, 10, 15, 20, 25, 30}

// IsMilestone reports whether streak is one of the milestone lengths.
func IsMilestone(streak int) bool {
	for _, m := range Milestones {
		if streak == m {
			return true
		}
	}
	return false
}

// TierFor returns the animation tier for a streak length.
func TierFor(streak int) domain.BadgeTier {
	if IsMilestone(streak) {
		return domain.TierMilestone
	}
	return domain.TierDaily
}

// NextMilestone returns the next milestone above streak, or zero once all
// have been passed.
func NextMilestone(streak int) int {
	for _, m := range Milestones {
		if m > streak {
			return m
		}
	}
	return 0
}
