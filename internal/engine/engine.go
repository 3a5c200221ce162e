// Package engine implements the betting state machine for No-Limit Hold'em.
//
// The engine is pure: every transition takes a Table by value and returns a
// new one, so callers can retry, diff, or snapshot states without locking.
// It knows nothing about cards, sockets or time; those live at the
// orchestration boundary.
package engine

import (
	"fmt"
	"sort"
)

// ActionOption describes one legal action for the acting player. Min and
// Max bound the total bet-this-round for Bet/Raise, and equal the chips
// paid for Call. They are zero for Fold and Check.
type ActionOption struct {
	Type ActionType
	Min  int
	Max  int
}

// NewHand creates the table state for a fresh hand with blinds posted.
// Short stacks post what they have and are all-in. Heads-up the button
// posts the small blind and acts first preflop.
func NewHand(seats []SeatConfig, button, smallBlind, bigBlind int) (Table, error) {
	if len(seats) < 2 {
		return Table{}, fmt.Errorf("need at least 2 players, got %d", len(seats))
	}
	if smallBlind <= 0 || bigBlind <= smallBlind {
		return Table{}, fmt.Errorf("invalid blinds %d/%d", smallBlind, bigBlind)
	}

	ordered := make([]SeatConfig, len(seats))
	copy(ordered, seats)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Seat < ordered[j].Seat })

	players := make([]Player, len(ordered))
	buttonIdx := -1
	for i, sc := range ordered {
		if i > 0 && sc.Seat == ordered[i-1].Seat {
			return Table{}, fmt.Errorf("duplicate seat %d", sc.Seat)
		}
		if sc.Stack <= 0 {
			return Table{}, fmt.Errorf("seat %d: stack must be positive, got %d", sc.Seat, sc.Stack)
		}
		players[i] = Player{Seat: sc.Seat, Stack: sc.Stack, Active: true}
		if sc.Seat == button {
			buttonIdx = i
		}
	}
	if buttonIdx < 0 {
		return Table{}, fmt.Errorf("button seat %d is not occupied", button)
	}

	t := Table{
		Players:    players,
		Button:     button,
		CurrentBet: bigBlind,
		MinRaise:   bigBlind,
		LastRaise:  bigBlind,
		BigBlind:   bigBlind,
		Phase:      Preflop,
		Aggressor:  NoSeat,
	}

	var sbIdx, bbIdx int
	if len(players) == 2 {
		sbIdx = buttonIdx
		bbIdx = (buttonIdx + 1) % 2
	} else {
		sbIdx = (buttonIdx + 1) % len(players)
		bbIdx = (buttonIdx + 2) % len(players)
	}
	postBlind(&t.Players[sbIdx], smallBlind)
	postBlind(&t.Players[bbIdx], bigBlind)

	// Posting a blind does not count as acting, so the big blind keeps
	// its option when everyone limps.
	t.Current = t.nextToAct(t.Players[bbIdx].Seat)
	return t, nil
}

func postBlind(p *Player, blind int) {
	pay := min(blind, p.Stack)
	p.Stack -= pay
	p.BetThisRound += pay
	p.TotalBet += pay
	if p.Stack == 0 {
		p.AllIn = true
	}
}

// AllowedActions returns the legal actions for the given seat, or nil when
// it is not that seat's turn. Amounts are total bet-this-round targets.
func AllowedActions(t Table, seat int) []ActionOption {
	p, ok := t.PlayerAt(seat)
	if !ok || t.Current != seat || !p.CanAct() {
		return nil
	}

	opts := []ActionOption{{Type: Fold}}
	toCall := t.CurrentBet - p.BetThisRound
	maxTotal := p.BetThisRound + p.Stack

	if toCall <= 0 {
		opts = append(opts, ActionOption{Type: Check})
		if t.CurrentBet == 0 {
			opts = append(opts, ActionOption{Type: Bet, Min: min(max(t.BigBlind, 1), maxTotal), Max: maxTotal})
		} else if maxTotal >= t.CurrentBet+t.MinRaise {
			// Big blind option: allowed to raise its own blind.
			opts = append(opts, ActionOption{Type: Raise, Min: t.CurrentBet + t.MinRaise, Max: maxTotal})
		}
	} else {
		pay := min(toCall, p.Stack)
		opts = append(opts, ActionOption{Type: Call, Min: pay, Max: pay})
		// A player still marked acted is facing a short all-in that did
		// not reopen the action; they may only call or fold.
		if !p.Acted && maxTotal >= t.CurrentBet+t.MinRaise {
			opts = append(opts, ActionOption{Type: Raise, Min: t.CurrentBet + t.MinRaise, Max: maxTotal})
		}
	}

	// Moving in is always legal while chips remain, whatever the sizing.
	opts = append(opts, ActionOption{Type: AllIn, Min: maxTotal, Max: maxTotal})
	return opts
}

// ApplyAction validates and applies one action for the given seat,
// returning the successor state. On any error the input table is returned
// unchanged; the engine never mutates its argument.
func ApplyAction(t Table, seat int, a Action) (Table, error) {
	idx := t.seatIndex(seat)
	if idx < 0 {
		return t, fmt.Errorf("unknown seat %d: %w", seat, ErrNotPlayersTurn)
	}
	if t.Current != seat {
		return t, fmt.Errorf("seat %d acted but seat %d is up: %w", seat, t.Current, ErrNotPlayersTurn)
	}
	p := t.Players[idx]
	if !p.CanAct() {
		return t, fmt.Errorf("seat %d cannot act: %w", seat, ErrIllegalAction)
	}

	out := t.clone()
	actor := &out.Players[idx]

	switch a.Type {
	case Fold:
		actor.Folded = true
		actor.Active = false

	case Check:
		if t.CurrentBet != p.BetThisRound {
			return t, fmt.Errorf("must call %d to continue: %w", t.CurrentBet-p.BetThisRound, ErrIllegalAction)
		}

	case Call:
		if t.CurrentBet <= p.BetThisRound {
			return t, fmt.Errorf("nothing to call: %w", ErrIllegalAction)
		}
		pay(actor, min(t.CurrentBet-p.BetThisRound, p.Stack))

	case Bet:
		if t.CurrentBet != 0 {
			return t, fmt.Errorf("cannot bet into a live bet, raise instead: %w", ErrIllegalAction)
		}
		if a.Amount > p.BetThisRound+p.Stack {
			return t, fmt.Errorf("bet %d exceeds stack %d: %w", a.Amount, p.Stack, ErrExceedsStack)
		}
		if a.Amount < max(t.BigBlind, 1) && a.Amount != p.BetThisRound+p.Stack {
			return t, fmt.Errorf("bet %d below minimum %d: %w", a.Amount, max(t.BigBlind, 1), ErrBelowMinimum)
		}
		pay(actor, a.Amount-actor.BetThisRound)
		out.CurrentBet = actor.BetThisRound
		out.LastRaise = actor.BetThisRound
		out.MinRaise = max(out.BigBlind, actor.BetThisRound)
		out.Aggressor = seat
		out.reopen(seat)

	case Raise:
		if t.CurrentBet == 0 {
			return t, fmt.Errorf("nothing to raise, bet instead: %w", ErrIllegalAction)
		}
		if p.Acted {
			return t, fmt.Errorf("action not reopened: %w", ErrIllegalAction)
		}
		if a.Amount <= t.CurrentBet {
			return t, fmt.Errorf("raise to %d does not exceed current bet %d: %w", a.Amount, t.CurrentBet, ErrBelowMinimum)
		}
		need := a.Amount - p.BetThisRound
		inc := a.Amount - t.CurrentBet
		if inc < t.MinRaise && need != p.Stack {
			return t, fmt.Errorf("raise increment %d below minimum %d: %w", inc, t.MinRaise, ErrBelowMinimum)
		}
		if need > p.Stack {
			return t, fmt.Errorf("raise to %d needs %d chips, have %d: %w", a.Amount, need, p.Stack, ErrExceedsStack)
		}
		pay(actor, need)
		out.CurrentBet = actor.BetThisRound
		if inc >= t.MinRaise {
			out.LastRaise = inc
			out.MinRaise = max(out.BigBlind, inc)
			out.Aggressor = seat
			out.reopen(seat)
		}
		// A short all-in raise does not reopen the action: players who
		// already matched the previous full bet only face a call.

	case AllIn:
		if p.Stack <= 0 {
			return t, fmt.Errorf("no chips to move in: %w", ErrIllegalAction)
		}
		pay(actor, p.Stack)
		if actor.BetThisRound > t.CurrentBet {
			inc := actor.BetThisRound - t.CurrentBet
			out.CurrentBet = actor.BetThisRound
			if inc >= t.MinRaise {
				out.LastRaise = inc
				out.MinRaise = max(out.BigBlind, inc)
				out.Aggressor = seat
				out.reopen(seat)
			}
		}

	default:
		return t, fmt.Errorf("unknown action %d: %w", a.Type, ErrIllegalAction)
	}

	actor.Acted = true
	out.Current = out.nextToAct(seat)
	return out, nil
}

func pay(p *Player, amount int) {
	p.Stack -= amount
	p.BetThisRound += amount
	p.TotalBet += amount
	if p.Stack == 0 {
		p.AllIn = true
	}
}

// reopen clears Acted for everyone but the aggressor so they must respond
// to the new wager.
func (t *Table) reopen(aggressor int) {
	for i := range t.Players {
		if t.Players[i].Seat != aggressor && t.Players[i].CanAct() {
			t.Players[i].Acted = false
		}
	}
}

// RoundComplete reports whether the current betting round has finished:
// at most one player remains unfolded, or every player who can still act
// has acted and matched the current bet. It is a pure predicate and safe
// to call repeatedly.
func RoundComplete(t Table) bool {
	if t.countNonFolded() <= 1 {
		return true
	}
	for _, p := range t.Players {
		if p.CanAct() && (!p.Acted || p.BetThisRound != t.CurrentBet) {
			return false
		}
	}
	return true
}

// HandOver reports whether no further betting round can occur: the field
// has folded to one player or the final round has been dealt.
func HandOver(t Table) bool {
	return t.countNonFolded() <= 1 || t.Phase == Showdown
}

// StartNewRound collects the round's bets into the pot and opens the next
// phase. Phases only ever move forward one step; anything else is a bug in
// the caller, not a client-reachable condition, and panics.
func StartNewRound(t Table, next Phase) Table {
	if next != t.Phase+1 || next > Showdown {
		panic(fmt.Sprintf("engine: illegal phase transition %s -> %s", t.Phase, next))
	}

	out := CollectBets(t)
	out.Phase = next
	out.CurrentBet = 0
	out.MinRaise = out.BigBlind
	out.LastRaise = 0
	out.Aggressor = NoSeat
	for i := range out.Players {
		out.Players[i].Acted = false
	}
	// Postflop the first live seat after the button opens the action.
	out.Current = out.nextToAct(out.Button)
	return out
}

// CollectBets moves every outstanding BetThisRound into the pot. It is
// called by StartNewRound and again by the orchestrator when a hand ends
// mid-round.
func CollectBets(t Table) Table {
	out := t.clone()
	for i := range out.Players {
		out.Pot += out.Players[i].BetThisRound
		out.Players[i].BetThisRound = 0
	}
	return out
}
