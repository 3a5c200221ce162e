package deck

import (
	rand "math/rand/v2"

	"github.com/clubroyale/tablecore/internal/randutil"
)

// Deck is an ordered set of cards with its own random source. Not safe
// for concurrent use; each table owns one.
type Deck struct {
	cards []Card
	rng   *rand.Rand
}

// New builds a full 52-card deck seeded from the given value. Equal seeds
// produce equal shuffle sequences.
func New(seed int64) *Deck {
	d := &Deck{
		cards: make([]Card, 0, 52),
		rng:   randutil.New(seed),
	}
	for suit := Spades; suit <= Clubs; suit++ {
		for rank := Two; rank <= Ace; rank++ {
			d.cards = append(d.cards, Card{Rank: rank, Suit: suit})
		}
	}
	return d
}

// Shuffle randomizes the deck in place.
func (d *Deck) Shuffle() {
	d.rng.Shuffle(len(d.cards), func(i, j int) {
		d.cards[i], d.cards[j] = d.cards[j], d.cards[i]
	})
}

// Draw removes and returns the top n cards. It returns fewer when the
// deck runs short.
func (d *Deck) Draw(n int) []Card {
	if n > len(d.cards) {
		n = len(d.cards)
	}
	out := d.cards[:n:n]
	d.cards = d.cards[n:]
	return out
}

// Remaining returns the number of undrawn cards.
func (d *Deck) Remaining() int {
	return len(d.cards)
}

// Reset restores all 52 cards and shuffles.
func (d *Deck) Reset() {
	d.cards = d.cards[:0]
	for suit := Spades; suit <= Clubs; suit++ {
		for rank := Two; rank <= Ace; rank++ {
			d.cards = append(d.cards, Card{Rank: rank, Suit: suit})
		}
	}
	d.Shuffle()
}
