package engine

import "errors"

// Typed rejection reasons. Anything a client can trigger maps onto one of
// these; callers match with errors.Is and relay the code to the offending
// client only.
var (
	ErrNotPlayersTurn = errors.New("not player's turn")
	ErrIllegalAction  = errors.New("illegal action for state")
	ErrBelowMinimum   = errors.New("amount below minimum")
	ErrExceedsStack   = errors.New("amount exceeds stack")
)
