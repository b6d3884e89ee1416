package celebrate

import (
	"fmt"
	"math/rand/v2"

	"github.com/felixgeelhaar/cadence/internal/domain"
)

var templates = map[domain.BadgeTier][]string{
	domain.TierDaily: {
		"Day %d in a row. Keep it going!",
		"%d-day streak. See you tomorrow!",
		"Streak extended to %d days.",
	},
	domain.TierMilestone: {
		"%d days straight. That's a milestone!",
		"Milestone unlocked: a %d-day streak!",
	},
}

// message picks a template for the tier and fills in the streak.
func message(tier domain.BadgeTier, streak int) string {
	options := templates[tier]
	if len(options) == 0 {
		return fmt.Sprintf("%d-day streak", streak)
	}
	return fmt.Sprintf(options[rand.IntN(len(options))], streak)
}
