package engine

import (
	"errors"
	"reflect"
	"testing"
)

func threeHanded(t *testing.T) Table {
	t.Helper()
	tbl, err := NewHand([]SeatConfig{
		{Seat: 0, Stack: 1000},
		{Seat: 1, Stack: 1000},
		{Seat: 2, Stack: 1000},
	}, 0, 10, 20)
	if err != nil {
		t.Fatalf("NewHand failed: %v", err)
	}
	return tbl
}

// chipSum is the conserved quantity: chips only move between stacks,
// round bets and the pot.
func chipSum(t Table) int {
	total := t.Pot
	for _, p := range t.Players {
		total += p.Stack + p.BetThisRound
	}
	return total
}

func mustApply(t *testing.T, tbl Table, seat int, a Action) Table {
	t.Helper()
	before := chipSum(tbl)
	out, err := ApplyAction(tbl, seat, a)
	if err != nil {
		t.Fatalf("ApplyAction(seat=%d, %v) failed: %v", seat, a, err)
	}
	if got := chipSum(out); got != before {
		t.Fatalf("chips not conserved: %d -> %d", before, got)
	}
	if out.Current != NoSeat {
		p, ok := out.PlayerAt(out.Current)
		if !ok || !p.CanAct() {
			t.Fatalf("current seat %d cannot act", out.Current)
		}
	}
	return out
}

func TestNewHandPostsBlinds(t *testing.T) {
	t.Parallel()

	tbl := threeHanded(t)

	sb, _ := tbl.PlayerAt(1)
	bb, _ := tbl.PlayerAt(2)
	if sb.BetThisRound != 10 || sb.Stack != 990 {
		t.Errorf("small blind not posted: bet=%d stack=%d", sb.BetThisRound, sb.Stack)
	}
	if bb.BetThisRound != 20 || bb.Stack != 980 {
		t.Errorf("big blind not posted: bet=%d stack=%d", bb.BetThisRound, bb.Stack)
	}
	if tbl.Current != 0 {
		t.Errorf("under the gun should act first, got seat %d", tbl.Current)
	}
	if tbl.CurrentBet != 20 || tbl.MinRaise != 20 {
		t.Errorf("blind round not initialized: currentBet=%d minRaise=%d", tbl.CurrentBet, tbl.MinRaise)
	}
}

func TestNewHandHeadsUpButtonPostsSmallBlind(t *testing.T) {
	t.Parallel()

	tbl, err := NewHand([]SeatConfig{{Seat: 3, Stack: 500}, {Seat: 7, Stack: 500}}, 3, 5, 10)
	if err != nil {
		t.Fatalf("NewHand failed: %v", err)
	}

	sb, _ := tbl.PlayerAt(3)
	bb, _ := tbl.PlayerAt(7)
	if sb.BetThisRound != 5 {
		t.Errorf("button should post small blind, bet=%d", sb.BetThisRound)
	}
	if bb.BetThisRound != 10 {
		t.Errorf("other seat should post big blind, bet=%d", bb.BetThisRound)
	}
	if tbl.Current != 3 {
		t.Errorf("button acts first heads-up preflop, got seat %d", tbl.Current)
	}
}

func TestNewHandRejectsBadInput(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		seats  []SeatConfig
		button int
		sb, bb int
	}{
		{"one player", []SeatConfig{{Seat: 0, Stack: 100}}, 0, 5, 10},
		{"duplicate seats", []SeatConfig{{Seat: 1, Stack: 100}, {Seat: 1, Stack: 100}}, 1, 5, 10},
		{"zero stack", []SeatConfig{{Seat: 0, Stack: 0}, {Seat: 1, Stack: 100}}, 0, 5, 10},
		{"button vacant", []SeatConfig{{Seat: 0, Stack: 100}, {Seat: 1, Stack: 100}}, 5, 5, 10},
		{"inverted blinds", []SeatConfig{{Seat: 0, Stack: 100}, {Seat: 1, Stack: 100}}, 0, 10, 5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewHand(tc.seats, tc.button, tc.sb, tc.bb); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

// The worked example: blinds 10/20, stacks 1000. UTG raises to 60, both
// blinds call, pot is 180 and the flop opens clean.
func TestPreflopRaiseAndCalls(t *testing.T) {
	t.Parallel()

	tbl := threeHanded(t)

	tbl = mustApply(t, tbl, 0, Action{Type: Raise, Amount: 60})
	if tbl.CurrentBet != 60 || tbl.MinRaise != 40 {
		t.Fatalf("after raise to 60: currentBet=%d minRaise=%d", tbl.CurrentBet, tbl.MinRaise)
	}
	if tbl.Aggressor != 0 {
		t.Errorf("aggressor should be seat 0, got %d", tbl.Aggressor)
	}

	// Small blind now owes 50 more; a re-raise must reach 100.
	opts := AllowedActions(tbl, 1)
	assertOption(t, opts, Call, 50, 50)
	assertOption(t, opts, Raise, 100, 990+10)

	tbl = mustApply(t, tbl, 1, Action{Type: Call})
	tbl = mustApply(t, tbl, 2, Action{Type: Call})

	if got := tbl.TotalPot(); got != 180 {
		t.Errorf("pot should be 180, got %d", got)
	}
	if !RoundComplete(tbl) {
		t.Fatal("round should be complete after both blinds call")
	}

	tbl = StartNewRound(tbl, Flop)
	if tbl.Phase != Flop || tbl.Pot != 180 || tbl.CurrentBet != 0 {
		t.Errorf("flop not opened correctly: phase=%s pot=%d currentBet=%d", tbl.Phase, tbl.Pot, tbl.CurrentBet)
	}
	for _, p := range tbl.Players {
		if p.BetThisRound != 0 || p.Acted {
			t.Errorf("seat %d round state not reset: bet=%d acted=%v", p.Seat, p.BetThisRound, p.Acted)
		}
	}
	if tbl.Current != 1 {
		t.Errorf("first seat after the button opens the flop, got %d", tbl.Current)
	}
}

func TestBigBlindKeepsOption(t *testing.T) {
	t.Parallel()

	tbl := threeHanded(t)
	tbl = mustApply(t, tbl, 0, Action{Type: Call})
	tbl = mustApply(t, tbl, 1, Action{Type: Call})

	if RoundComplete(tbl) {
		t.Fatal("big blind still has the option, round must not be complete")
	}
	if tbl.Current != 2 {
		t.Fatalf("big blind should be up, got seat %d", tbl.Current)
	}

	opts := AllowedActions(tbl, 2)
	assertOption(t, opts, Check, 0, 0)
	assertOption(t, opts, Raise, 40, 1000)

	tbl = mustApply(t, tbl, 2, Action{Type: Check})
	if !RoundComplete(tbl) {
		t.Error("round should complete once the big blind checks")
	}
}

// A player too short to min-raise may only fold, call for their stack, or
// move in; a raise request fails with the below-minimum error.
func TestShortStackFacingBigBet(t *testing.T) {
	t.Parallel()

	tbl := Table{
		Players: []Player{
			{Seat: 0, Stack: 900, BetThisRound: 100, TotalBet: 100, Acted: true, Active: true},
			{Seat: 1, Stack: 15, Active: true},
		},
		Button:     0,
		Current:    1,
		CurrentBet: 100,
		MinRaise:   20,
		LastRaise:  20,
		BigBlind:   20,
		Phase:      Flop,
		Aggressor:  0,
	}

	opts := AllowedActions(tbl, 1)
	assertOption(t, opts, Fold, 0, 0)
	assertOption(t, opts, Call, 15, 15)
	assertOption(t, opts, AllIn, 15, 15)
	for _, o := range opts {
		if o.Type == Raise {
			t.Error("raise must not be offered to a stack that cannot min-raise")
		}
	}

	_, err := ApplyAction(tbl, 1, Action{Type: Raise, Amount: 110})
	if !errors.Is(err, ErrBelowMinimum) {
		t.Errorf("expected ErrBelowMinimum, got %v", err)
	}

	out := mustApply(t, tbl, 1, Action{Type: Call})
	p, _ := out.PlayerAt(1)
	if !p.AllIn || p.Stack != 0 || p.BetThisRound != 15 {
		t.Errorf("call for less should be all-in: %+v", p)
	}
}

// Short all-in raises lift the bet but do not reopen the action: the
// original bettor stays acted and the raise window is unchanged.
func TestShortAllInDoesNotReopen(t *testing.T) {
	t.Parallel()

	tbl := Table{
		Players: []Player{
			{Seat: 0, Stack: 900, BetThisRound: 100, TotalBet: 100, Acted: true, Active: true},
			{Seat: 1, Stack: 105, BetThisRound: 10, TotalBet: 10, Active: true},
			{Seat: 2, Stack: 1000, Active: true},
		},
		Button:     2,
		Current:    1,
		CurrentBet: 100,
		MinRaise:   80,
		LastRaise:  80,
		BigBlind:   20,
		Phase:      Preflop,
		Aggressor:  0,
	}

	out := mustApply(t, tbl, 1, Action{Type: AllIn})
	if out.CurrentBet != 115 {
		t.Fatalf("current bet should rise to 115, got %d", out.CurrentBet)
	}
	if out.MinRaise != 80 || out.LastRaise != 80 {
		t.Errorf("short all-in must not move the raise window: minRaise=%d lastRaise=%d", out.MinRaise, out.LastRaise)
	}
	if out.Aggressor != 0 {
		t.Errorf("aggressor unchanged by short all-in, got %d", out.Aggressor)
	}
	a, _ := out.PlayerAt(0)
	if !a.Acted {
		t.Error("original bettor must stay acted; only the extra chips are owed")
	}
	if RoundComplete(out) {
		t.Error("round not complete until the extra 15 is matched or folded")
	}
}

// Once a short all-in is called around, players who already acted against
// the original bet may only call or fold the extra chips. A player yet to
// act still holds the full option.
func TestShortAllInLeavesNoReraiseForActedPlayers(t *testing.T) {
	t.Parallel()

	tbl := Table{
		Players: []Player{
			{Seat: 0, Stack: 900, BetThisRound: 100, TotalBet: 100, Acted: true, Active: true},
			{Seat: 1, Stack: 105, BetThisRound: 10, TotalBet: 10, Active: true},
			{Seat: 2, Stack: 1000, Active: true},
		},
		Button:     2,
		Current:    1,
		CurrentBet: 100,
		MinRaise:   80,
		LastRaise:  80,
		BigBlind:   20,
		Phase:      Preflop,
		Aggressor:  0,
	}

	out := mustApply(t, tbl, 1, Action{Type: AllIn})

	// Seat 2 never acted against the original bet and may still raise.
	assertOption(t, AllowedActions(out, 2), Raise, 195, 1000)
	out = mustApply(t, out, 2, Action{Type: Call})

	// Seat 0 already acted; the 15 on top only buys a call or a fold.
	opts := AllowedActions(out, 0)
	assertOption(t, opts, Call, 15, 15)
	for _, o := range opts {
		if o.Type == Raise {
			t.Error("raise must not be offered when the action was never reopened")
		}
	}
	if _, err := ApplyAction(out, 0, Action{Type: Raise, Amount: 300}); !errors.Is(err, ErrIllegalAction) {
		t.Errorf("expected ErrIllegalAction, got %v", err)
	}

	done := mustApply(t, out, 0, Action{Type: Call})
	if !RoundComplete(done) {
		t.Error("round completes once the extra chips are matched")
	}
}

// A full-raise all-in reopens the action for everyone still holding chips.
func TestFullAllInReopens(t *testing.T) {
	t.Parallel()

	tbl := Table{
		Players: []Player{
			{Seat: 0, Stack: 900, BetThisRound: 100, TotalBet: 100, Acted: true, Active: true},
			{Seat: 1, Stack: 300, BetThisRound: 0, TotalBet: 0, Active: true},
			{Seat: 2, Stack: 1000, BetThisRound: 100, TotalBet: 100, Acted: true, Active: true},
		},
		Button:     2,
		Current:    1,
		CurrentBet: 100,
		MinRaise:   100,
		LastRaise:  100,
		BigBlind:   20,
		Phase:      Flop,
		Aggressor:  0,
	}

	out := mustApply(t, tbl, 1, Action{Type: AllIn})
	if out.CurrentBet != 300 || out.MinRaise != 200 {
		t.Fatalf("full all-in should set currentBet=300 minRaise=200, got %d/%d", out.CurrentBet, out.MinRaise)
	}
	for _, seat := range []int{0, 2} {
		p, _ := out.PlayerAt(seat)
		if p.Acted {
			t.Errorf("seat %d must act again after a full raise", seat)
		}
	}
	if out.Aggressor != 1 {
		t.Errorf("aggressor should be seat 1, got %d", out.Aggressor)
	}
}

func TestIllegalActionsLeaveStateUntouched(t *testing.T) {
	t.Parallel()

	tbl := threeHanded(t)

	cases := []struct {
		name string
		seat int
		a    Action
		want error
	}{
		{"out of turn", 1, Action{Type: Call}, ErrNotPlayersTurn},
		{"unknown seat", 9, Action{Type: Fold}, ErrNotPlayersTurn},
		{"check facing bet", 0, Action{Type: Check}, ErrIllegalAction},
		{"bet into live bet", 0, Action{Type: Bet, Amount: 60}, ErrIllegalAction},
		{"raise below minimum", 0, Action{Type: Raise, Amount: 30}, ErrBelowMinimum},
		{"raise beyond stack", 0, Action{Type: Raise, Amount: 5000}, ErrExceedsStack},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := ApplyAction(tbl, tc.seat, tc.a)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if !reflect.DeepEqual(out, tbl) {
				t.Error("rejected action must leave the table unchanged")
			}
		})
	}
}

func TestFoldToOnePlayerEndsHand(t *testing.T) {
	t.Parallel()

	tbl := threeHanded(t)
	tbl = mustApply(t, tbl, 0, Action{Type: Fold})
	tbl = mustApply(t, tbl, 1, Action{Type: Fold})

	if !RoundComplete(tbl) || !HandOver(tbl) {
		t.Error("hand is over once the field folds to the big blind")
	}
	// Idempotent: asking twice with no intervening action agrees.
	if RoundComplete(tbl) != RoundComplete(tbl) {
		t.Error("round-complete predicate must be stable")
	}
}

func TestStartNewRoundPanicsOnPhaseSkip(t *testing.T) {
	t.Parallel()

	tbl := threeHanded(t)
	defer func() {
		if recover() == nil {
			t.Error("skipping from preflop to river must panic")
		}
	}()
	StartNewRound(tbl, River)
}

func TestChipConservationAcrossFullHand(t *testing.T) {
	t.Parallel()

	tbl := threeHanded(t)
	total := chipSum(tbl)

	tbl = mustApply(t, tbl, 0, Action{Type: Raise, Amount: 60})
	tbl = mustApply(t, tbl, 1, Action{Type: Call})
	tbl = mustApply(t, tbl, 2, Action{Type: Call})
	tbl = StartNewRound(tbl, Flop)

	tbl = mustApply(t, tbl, 1, Action{Type: Check})
	tbl = mustApply(t, tbl, 2, Action{Type: Bet, Amount: 100})
	tbl = mustApply(t, tbl, 0, Action{Type: Raise, Amount: 250})
	tbl = mustApply(t, tbl, 1, Action{Type: Fold})
	tbl = mustApply(t, tbl, 2, Action{Type: AllIn})
	tbl = mustApply(t, tbl, 0, Action{Type: Call})
	tbl = StartNewRound(tbl, Turn)

	if got := chipSum(tbl); got != total {
		t.Errorf("chips leaked: started %d, have %d", total, got)
	}
	if !RoundComplete(tbl) {
		t.Error("turn has no live bettors, round completes immediately")
	}
}

func assertOption(t *testing.T, opts []ActionOption, typ ActionType, wantMin, wantMax int) {
	t.Helper()
	for _, o := range opts {
		if o.Type == typ {
			if o.Min != wantMin || o.Max != wantMax {
				t.Errorf("%s option bounds: got [%d,%d], want [%d,%d]", typ, o.Min, o.Max, wantMin, wantMax)
			}
			return
		}
	}
	t.Errorf("%s not offered in %v", typ, opts)
}
