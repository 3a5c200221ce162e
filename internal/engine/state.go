package engine

// NoSeat marks the absence of a seat reference, e.g. no player left to act.
const NoSeat = -1

// Phase represents the betting round
type Phase int

const (
	Preflop Phase = iota
	Flop
	Turn
	River
	Showdown
)

func (p Phase) String() string {
	return [...]string{"preflop", "flop", "turn", "river", "showdown"}[p]
}

// ActionType represents a player action
type ActionType int

const (
	Fold ActionType = iota
	Check
	Call
	Bet
	Raise
	AllIn
)

func (a ActionType) String() string {
	return [...]string{"fold", "check", "call", "bet", "raise", "allin"}[a]
}

// Action is a player's requested move. Amount is the player's total bet for
// the current round after the action, not an increment. It is ignored for
// Fold, Check, Call and AllIn.
type Action struct {
	Type   ActionType
	Amount int
}

// Player holds the per-hand state of one seated player.
type Player struct {
	Seat         int
	Stack        int // chips not yet wagered this hand
	BetThisRound int // chips committed in the current round
	TotalBet     int // cumulative chips committed this hand
	Folded       bool
	AllIn        bool
	Acted        bool // cleared whenever a new wager reopens the round
	Active       bool // false once folded or removed
}

// CanAct reports whether the player can still take an action this round.
func (p Player) CanAct() bool {
	return !p.Folded && !p.AllIn && p.Stack > 0
}

// Table is the authoritative state of one hand in progress. Values are
// immutable from the caller's perspective: ApplyAction and StartNewRound
// return new tables and never mutate their input.
type Table struct {
	Players    []Player // ordered by ascending seat
	Button     int      // seat of the dealer button
	Current    int      // seat whose turn it is, NoSeat if nobody can act
	CurrentBet int      // highest BetThisRound among players this round
	MinRaise   int      // minimum legal raise increment over CurrentBet
	LastRaise  int      // size of the last full raise increment
	BigBlind   int
	Pot        int // chips collected from completed rounds
	Phase      Phase
	Aggressor  int // seat of the last full-raise aggressor, NoSeat if none
}

// SeatConfig describes one player entering a hand.
type SeatConfig struct {
	Seat  int
	Stack int
}

// SidePot is one payout pot derived from final contributions. Eligible is
// the sorted set of seats that can win it. Main pot first in any slice of
// SidePots.
type SidePot struct {
	Amount   int
	Eligible []int
}

// TotalPot returns the pot plus all uncollected bets, the number a client
// expects to see mid-round.
func (t Table) TotalPot() int {
	total := t.Pot
	for _, p := range t.Players {
		total += p.BetThisRound
	}
	return total
}

// PlayerAt returns the player occupying seat, or false if the seat is
// unknown to this hand.
func (t Table) PlayerAt(seat int) (Player, bool) {
	if i := t.seatIndex(seat); i >= 0 {
		return t.Players[i], true
	}
	return Player{}, false
}

func (t Table) seatIndex(seat int) int {
	for i, p := range t.Players {
		if p.Seat == seat {
			return i
		}
	}
	return -1
}

// clone copies the table with a fresh Players slice so transitions never
// alias the input.
func (t Table) clone() Table {
	out := t
	out.Players = make([]Player, len(t.Players))
	copy(out.Players, t.Players)
	return out
}

// nextToAct returns the first seat after the given one (ascending,
// wrapping) that can still act, or NoSeat.
func (t Table) nextToAct(after int) int {
	n := len(t.Players)
	start := t.seatIndex(after)
	for off := 1; off <= n; off++ {
		p := t.Players[(start+off)%n]
		if p.CanAct() {
			return p.Seat
		}
	}
	return NoSeat
}

func (t Table) countNonFolded() int {
	n := 0
	for _, p := range t.Players {
		if !p.Folded {
			n++
		}
	}
	return n
}
