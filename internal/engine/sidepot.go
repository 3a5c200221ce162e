package engine

import "sort"

// SidePots derives the payout pots from the final per-player contributions
// of the players still contesting the hand (callers pass the non-folded
// players). It walks the distinct contribution tiers in ascending order;
// each tier's pot holds the tier increment multiplied by the number of
// players at or above it, and is winnable only by those players.
//
// The sum of all pot amounts always equals the sum of the inputs'
// TotalBet. The function is pure and idempotent; it runs exactly once per
// concluded hand.
func SidePots(players []Player) []SidePot {
	tiers := make([]int, 0, len(players))
	seen := make(map[int]bool, len(players))
	for _, p := range players {
		if p.TotalBet > 0 && !seen[p.TotalBet] {
			seen[p.TotalBet] = true
			tiers = append(tiers, p.TotalBet)
		}
	}
	sort.Ints(tiers)

	pots := make([]SidePot, 0, len(tiers))
	prev := 0
	for _, tier := range tiers {
		pot := SidePot{}
		for _, p := range players {
			if p.TotalBet >= tier {
				pot.Amount += tier - prev
				pot.Eligible = append(pot.Eligible, p.Seat)
			}
		}
		sort.Ints(pot.Eligible)
		pots = append(pots, pot)
		prev = tier
	}
	return pots
}
