// Package deck provides a shuffled 52-card deck for dealing hole cards.
// Cards serialize to the two-character wire form used in table snapshots
// and hand histories, e.g. "As" or "Td".
package deck

// Suit represents a card suit.
type Suit int

const (
	Spades Suit = iota
	Hearts
	Diamonds
	Clubs
)

var suitLetters = [...]string{"s", "h", "d", "c"}

func (s Suit) String() string {
	if s < Spades || s > Clubs {
		return "?"
	}
	return suitLetters[s]
}

// Rank represents a card rank, Two through Ace.
type Rank int

const (
	Two Rank = iota + 2
	Three
	Four
	Five
	Six
	Seven
	Eight
	Nine
	Ten
	Jack
	Queen
	King
	Ace
)

var rankLetters = [...]string{"2", "3", "4", "5", "6", "7", "8", "9", "T", "J", "Q", "K", "A"}

func (r Rank) String() string {
	if r < Two || r > Ace {
		return "?"
	}
	return rankLetters[r-Two]
}

// Card is a single playing card.
type Card struct {
	Rank Rank
	Suit Suit
}

// String returns the wire form, rank then suit: "As", "Td", "2c".
func (c Card) String() string {
	return c.Rank.String() + c.Suit.String()
}
