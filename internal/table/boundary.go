package table

import (
	"github.com/clubroyale/tablecore/internal/deck"
	"github.com/clubroyale/tablecore/internal/protocol"
)

// Broadcaster delivers messages to live connections. Satisfied by
// *registry.Registry.
type Broadcaster interface {
	BroadcastToTable(tableID string, msg *protocol.Message, excludePlayerID string) int
	SendToPlayer(tableID, playerID string, msg *protocol.Message) error
	RemoveConnection(tableID, playerID string) bool
}

// Queuer buffers messages for players who are seated but disconnected.
// Satisfied by *session.Manager.
type Queuer interface {
	QueueMessage(playerID string, msg *protocol.Message) bool
	Connected(playerID string) bool
}

// Dealer supplies hole cards at hand start. The betting engine never
// sees cards; the orchestrator holds them and redacts per recipient.
type Dealer interface {
	DealHoleCards(seats []int) map[int][]string
}

// DeckDealer deals two cards per seat from a reshuffled deck.
type DeckDealer struct {
	deck *deck.Deck
}

// NewDeckDealer builds a dealer whose shuffles derive from seed.
func NewDeckDealer(seed int64) *DeckDealer {
	return &DeckDealer{deck: deck.New(seed)}
}

// DealHoleCards reshuffles and deals two cards to every given seat.
func (dd *DeckDealer) DealHoleCards(seats []int) map[int][]string {
	dd.deck.Reset()
	out := make(map[int][]string, len(seats))
	for _, seat := range seats {
		cards := dd.deck.Draw(2)
		out[seat] = []string{cards[0].String(), cards[1].String()}
	}
	return out
}

// WinnerResolver decides who wins a pot among its eligible seats.
// Showdown evaluation lives behind this boundary so the core stays free
// of hand-ranking rules.
type WinnerResolver interface {
	Winners(eligible []int, holeCards map[int][]string) []int
}

// SplitResolver awards every eligible seat an equal share. It is the
// default until a ranking evaluator is plugged in.
type SplitResolver struct{}

// Winners returns all eligible seats.
func (SplitResolver) Winners(eligible []int, _ map[int][]string) []int {
	return eligible
}
