package engine

import (
	"reflect"
	"testing"
)

func TestSidePotsSingleTier(t *testing.T) {
	t.Parallel()

	// Everyone contributed the same amount: one pot, all eligible.
	players := []Player{
		{Seat: 0, TotalBet: 100},
		{Seat: 1, TotalBet: 100},
		{Seat: 2, TotalBet: 100},
	}

	pots := SidePots(players)
	if len(pots) != 1 {
		t.Fatalf("expected 1 pot, got %d", len(pots))
	}
	if pots[0].Amount != 300 {
		t.Errorf("expected 300, got %d", pots[0].Amount)
	}
	if !reflect.DeepEqual(pots[0].Eligible, []int{0, 1, 2}) {
		t.Errorf("all seats eligible, got %v", pots[0].Eligible)
	}
}

func TestSidePotsOneAllIn(t *testing.T) {
	t.Parallel()

	// Seat 0 all-in short for 50, two callers for 100.
	players := []Player{
		{Seat: 0, TotalBet: 50, AllIn: true},
		{Seat: 1, TotalBet: 100},
		{Seat: 2, TotalBet: 100},
	}

	pots := SidePots(players)
	if len(pots) != 2 {
		t.Fatalf("expected 2 pots, got %d", len(pots))
	}
	if pots[0].Amount != 150 || len(pots[0].Eligible) != 3 {
		t.Errorf("main pot: %+v", pots[0])
	}
	if pots[1].Amount != 100 || !reflect.DeepEqual(pots[1].Eligible, []int{1, 2}) {
		t.Errorf("side pot: %+v", pots[1])
	}
}

func TestSidePotsMultipleAllIns(t *testing.T) {
	t.Parallel()

	players := []Player{
		{Seat: 0, TotalBet: 30, AllIn: true},
		{Seat: 1, TotalBet: 70, AllIn: true},
		{Seat: 2, TotalBet: 100},
		{Seat: 3, TotalBet: 100},
	}

	pots := SidePots(players)
	if len(pots) != 3 {
		t.Fatalf("expected 3 pots, got %d", len(pots))
	}

	wantAmounts := []int{120, 120, 60}
	wantEligible := [][]int{{0, 1, 2, 3}, {1, 2, 3}, {2, 3}}
	for i, pot := range pots {
		if pot.Amount != wantAmounts[i] {
			t.Errorf("pot %d amount: got %d, want %d", i, pot.Amount, wantAmounts[i])
		}
		if !reflect.DeepEqual(pot.Eligible, wantEligible[i]) {
			t.Errorf("pot %d eligible: got %v, want %v", i, pot.Eligible, wantEligible[i])
		}
	}
}

// The sum of all pots always equals the sum of contributions, whatever
// the tier structure looks like.
func TestSidePotsSumLaw(t *testing.T) {
	t.Parallel()

	cases := [][]int{
		{100, 100, 100},
		{50, 100, 100},
		{30, 70, 100, 100},
		{1, 2, 3, 4, 5},
		{500},
		{0, 0, 100},
		{25, 25, 75, 200, 200, 13},
	}
	for _, bets := range cases {
		players := make([]Player, len(bets))
		total := 0
		for i, b := range bets {
			players[i] = Player{Seat: i, TotalBet: b}
			total += b
		}

		got := 0
		for _, pot := range SidePots(players) {
			got += pot.Amount
		}
		if got != total {
			t.Errorf("bets %v: pots sum to %d, want %d", bets, got, total)
		}
	}
}

func TestSidePotsIdempotent(t *testing.T) {
	t.Parallel()

	players := []Player{
		{Seat: 0, TotalBet: 40, AllIn: true},
		{Seat: 1, TotalBet: 90},
		{Seat: 2, TotalBet: 90},
	}

	first := SidePots(players)
	second := SidePots(players)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated runs disagree: %v vs %v", first, second)
	}
}

func TestSidePotsEmptyInput(t *testing.T) {
	t.Parallel()

	if pots := SidePots(nil); len(pots) != 0 {
		t.Errorf("no contributions, no pots; got %v", pots)
	}
}
