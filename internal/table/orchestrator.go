// Package table orchestrates one poker table: it serializes betting
// actions onto the pure engine, owns hole cards and hand IDs, broadcasts
// redacted state to every seat, and publishes events to listeners such
// as the hand history recorder. One goroutine per table applies actions
// in arrival order; tables never block each other.
package table

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/oklog/ulid/v2"

	"github.com/clubroyale/tablecore/internal/engine"
	"github.com/clubroyale/tablecore/internal/protocol"
)

var (
	ErrStopped          = errors.New("table stopped")
	ErrNoHand           = errors.New("no hand in progress")
	ErrHandInProgress   = errors.New("hand already in progress")
	ErrSeatTaken        = errors.New("seat already taken")
	ErrTableFull        = errors.New("no seat at this table")
	ErrNotSeated        = errors.New("player not seated")
	ErrNotEnoughPlayers = errors.New("not enough funded players")
	ErrWrongSeat        = errors.New("player does not hold that seat")
)

// Config carries per-table settings.
type Config struct {
	TableID            string
	SmallBlind         int
	BigBlind           int
	MaxPlayers         int // seats are numbered 0..MaxPlayers-1
	IllegalActionLimit int // offender is disconnected at this many consecutive rejections
	EventBuffer        int
}

func (c Config) withDefaults() Config {
	if c.MaxPlayers <= 0 {
		c.MaxPlayers = 9
	}
	if c.SmallBlind <= 0 {
		c.SmallBlind = 10
	}
	if c.BigBlind <= 0 {
		c.BigBlind = c.SmallBlind * 2
	}
	if c.IllegalActionLimit <= 0 {
		c.IllegalActionLimit = 3
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 128
	}
	return c
}

// Deps are the orchestrator's collaborators. Broadcaster and Queue are
// required; the rest default to production implementations.
type Deps struct {
	Broadcaster Broadcaster
	Queue       Queuer
	Dealer      Dealer
	Resolver    WinnerResolver
	Clock       quartz.Clock
	Logger      *log.Logger
}

type seatInfo struct {
	playerID string
	stack    int
}

// Orchestrator runs a single table. All exported methods funnel through
// the run loop, so callers may invoke them from any goroutine.
type Orchestrator struct {
	cfg      Config
	logger   *log.Logger
	clock    quartz.Clock
	bcast    Broadcaster
	queue    Queuer
	dealer   Dealer
	resolver WinnerResolver

	cmds   chan func()
	events chan Event

	listenerMu sync.RWMutex
	listeners  []Listener

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Run-loop owned; never touched outside cmds.
	state        engine.Table
	handActive   bool
	handID       string
	handNum      int
	button       int
	seats        map[int]*seatInfo
	holeCards    map[int][]string
	illegal      map[string]int
	pendingLeave map[string]bool
}

// New builds an orchestrator and starts its run and dispatch loops.
func New(cfg Config, deps Deps) *Orchestrator {
	cfg = cfg.withDefaults()
	if deps.Clock == nil {
		deps.Clock = quartz.NewReal()
	}
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	if deps.Dealer == nil {
		deps.Dealer = NewDeckDealer(deps.Clock.Now().UnixNano())
	}
	if deps.Resolver == nil {
		deps.Resolver = SplitResolver{}
	}

	o := &Orchestrator{
		cfg:          cfg,
		logger:       deps.Logger.WithPrefix("table").With("table", cfg.TableID),
		clock:        deps.Clock,
		bcast:        deps.Broadcaster,
		queue:        deps.Queue,
		dealer:       deps.Dealer,
		resolver:     deps.Resolver,
		cmds:         make(chan func(), 64),
		events:       make(chan Event, cfg.EventBuffer),
		done:         make(chan struct{}),
		button:       engine.NoSeat,
		seats:        make(map[int]*seatInfo),
		illegal:      make(map[string]int),
		pendingLeave: make(map[string]bool),
	}
	o.wg.Add(2)
	go o.run()
	go o.dispatch()
	return o
}

// Stop halts the run loop. In-flight commands error with ErrStopped;
// buffered events may be dropped.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.done) })
	o.wg.Wait()
}

// AddListener registers an event consumer.
func (o *Orchestrator) AddListener(l Listener) {
	o.listenerMu.Lock()
	defer o.listenerMu.Unlock()
	o.listeners = append(o.listeners, l)
}

// Sit places a player at a seat with a starting stack. Seating during a
// hand is allowed; the player joins from the next hand.
func (o *Orchestrator) Sit(seat int, playerID string, stack int) error {
	return o.do(func() error {
		if seat < 0 || stack <= 0 {
			return fmt.Errorf("seat %d stack %d: invalid", seat, stack)
		}
		if seat >= o.cfg.MaxPlayers {
			return fmt.Errorf("seat %d on a %d-max table: %w", seat, o.cfg.MaxPlayers, ErrTableFull)
		}
		if taken, ok := o.seats[seat]; ok {
			if taken.playerID != playerID {
				return ErrSeatTaken
			}
			// Re-seating the same player keeps their stack.
			delete(o.pendingLeave, playerID)
			return nil
		}
		for s, info := range o.seats {
			if info.playerID == playerID && s != seat {
				return fmt.Errorf("player %s already holds seat %d: %w", playerID, s, ErrSeatTaken)
			}
		}
		o.seats[seat] = &seatInfo{playerID: playerID, stack: stack}
		delete(o.pendingLeave, playerID)
		return nil
	})
}

// Leave vacates the player's seat. Outside a hand the seat frees
// immediately; during a hand the player is folded when action reaches
// them and the seat frees when the hand concludes.
func (o *Orchestrator) Leave(playerID string) error {
	return o.do(func() error {
		seat := o.seatOf(playerID)
		if seat == engine.NoSeat {
			return ErrNotSeated
		}
		inHand := false
		if o.handActive {
			if p, ok := o.state.PlayerAt(seat); ok && !p.Folded {
				inHand = true
			}
		}
		if !inHand {
			delete(o.seats, seat)
			delete(o.pendingLeave, playerID)
			return nil
		}
		o.pendingLeave[playerID] = true
		o.progress()
		if o.handActive {
			o.broadcastState()
		}
		return nil
	})
}

// StartHand deals a new hand among funded seats.
func (o *Orchestrator) StartHand() error {
	return o.do(o.startHand)
}

// Act applies a betting action for a player. Rejections are also
// reported to the offending client with its refreshed legal actions.
func (o *Orchestrator) Act(playerID string, seat int, action engine.Action) error {
	return o.do(func() error {
		return o.handleAct(playerID, seat, action)
	})
}

// HandActive reports whether a hand is being played.
func (o *Orchestrator) HandActive() bool {
	active := false
	_ = o.do(func() error {
		active = o.handActive
		return nil
	})
	return active
}

// SeatOf returns the seat held by a player.
func (o *Orchestrator) SeatOf(playerID string) (int, bool) {
	seat := engine.NoSeat
	_ = o.do(func() error {
		seat = o.seatOf(playerID)
		return nil
	})
	return seat, seat != engine.NoSeat
}

// Stacks returns a copy of every seated player's stack.
func (o *Orchestrator) Stacks() map[int]int {
	out := make(map[int]int)
	_ = o.do(func() error {
		for seat, info := range o.seats {
			out[seat] = info.stack
		}
		return nil
	})
	return out
}

func (o *Orchestrator) do(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case o.cmds <- func() { reply <- fn() }:
	case <-o.done:
		return ErrStopped
	}
	select {
	case err := <-reply:
		return err
	case <-o.done:
		return ErrStopped
	}
}

func (o *Orchestrator) run() {
	defer o.wg.Done()
	for {
		select {
		case fn := <-o.cmds:
			fn()
		case <-o.done:
			return
		}
	}
}

func (o *Orchestrator) dispatch() {
	defer o.wg.Done()
	for {
		select {
		case ev := <-o.events:
			o.listenerMu.RLock()
			listeners := o.listeners
			o.listenerMu.RUnlock()
			for _, l := range listeners {
				switch e := ev.(type) {
				case ActionAppliedEvent:
					l.OnActionApplied(e)
				case HandCompletedEvent:
					l.OnHandCompleted(e)
				}
			}
		case <-o.done:
			return
		}
	}
}

func (o *Orchestrator) publish(ev Event) {
	select {
	case o.events <- ev:
	default:
		o.logger.Warn("event buffer full, dropping", "type", ev.EventType())
	}
}

func (o *Orchestrator) seatOf(playerID string) int {
	for seat, info := range o.seats {
		if info.playerID == playerID {
			return seat
		}
	}
	return engine.NoSeat
}

func (o *Orchestrator) startHand() error {
	if o.handActive {
		return ErrHandInProgress
	}

	var configs []engine.SeatConfig
	for seat, info := range o.seats {
		if info.stack > 0 {
			configs = append(configs, engine.SeatConfig{Seat: seat, Stack: info.stack})
		}
	}
	if len(configs) < 2 {
		return ErrNotEnoughPlayers
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].Seat < configs[j].Seat })

	o.button = nextSeat(configs, o.button)
	state, err := engine.NewHand(configs, o.button, o.cfg.SmallBlind, o.cfg.BigBlind)
	if err != nil {
		return err
	}
	o.state = state

	seatNums := make([]int, len(configs))
	for i, c := range configs {
		seatNums[i] = c.Seat
	}
	o.holeCards = o.dealer.DealHoleCards(seatNums)
	o.handID = ulid.MustNew(ulid.Timestamp(o.clock.Now()), rand.Reader).String()
	o.handActive = true
	o.handNum++

	o.logger.Info("hand started", "hand", o.handID, "players", len(configs), "button", o.button)
	o.broadcast(protocol.MustMessage(protocol.TypeHandStart, protocol.HandStartData{
		TableID:    o.cfg.TableID,
		HandID:     o.handID,
		Button:     o.button,
		SmallBlind: o.cfg.SmallBlind,
		BigBlind:   o.cfg.BigBlind,
	}))
	o.broadcastState()
	return nil
}

// nextSeat returns the first occupied seat after the given one, wrapping
// around; NoSeat yields the lowest seat.
func nextSeat(configs []engine.SeatConfig, after int) int {
	for _, c := range configs {
		if c.Seat > after {
			return c.Seat
		}
	}
	return configs[0].Seat
}

func (o *Orchestrator) handleAct(playerID string, seat int, action engine.Action) error {
	if !o.handActive {
		return ErrNoHand
	}
	info, ok := o.seats[seat]
	if !ok || info.playerID != playerID {
		return ErrWrongSeat
	}

	next, err := engine.ApplyAction(o.state, seat, action)
	if err != nil {
		o.rejectAction(playerID, seat, action, err)
		return err
	}
	delete(o.illegal, playerID)
	o.state = next

	applied, _ := next.PlayerAt(seat)
	o.publish(ActionAppliedEvent{
		TableID: o.cfg.TableID,
		HandID:  o.handID,
		Seat:    seat,
		Action:  action,
		Pot:     next.TotalPot(),
		Phase:   next.Phase,
		At:      o.clock.Now(),
	})
	o.broadcast(protocol.MustMessage(protocol.TypeActionApplied, protocol.ActionAppliedData{
		TableID: o.cfg.TableID,
		HandID:  o.handID,
		Seat:    seat,
		Action:  action.Type.String(),
		Amount:  applied.BetThisRound,
		Pot:     next.TotalPot(),
		Phase:   next.Phase.String(),
	}))

	o.progress()
	if o.handActive {
		o.broadcastState()
	}
	return nil
}

func (o *Orchestrator) rejectAction(playerID string, seat int, action engine.Action, cause error) {
	msg := protocol.MustMessage(protocol.TypeActionRejected, protocol.ActionRejectedData{
		Code:    rejectCode(cause),
		Message: cause.Error(),
		Action:  action.Type.String(),
		Allowed: allowedPayload(o.state, seat),
	})
	o.sendOrQueue(playerID, msg)

	o.illegal[playerID]++
	if o.illegal[playerID] >= o.cfg.IllegalActionLimit {
		o.logger.Warn("disconnecting after repeated illegal actions",
			"player", playerID, "attempts", o.illegal[playerID])
		delete(o.illegal, playerID)
		o.bcast.RemoveConnection(o.cfg.TableID, playerID)
	}
}

func rejectCode(err error) string {
	switch {
	case errors.Is(err, engine.ErrNotPlayersTurn):
		return "not_your_turn"
	case errors.Is(err, engine.ErrBelowMinimum):
		return "below_minimum"
	case errors.Is(err, engine.ErrExceedsStack):
		return "exceeds_stack"
	default:
		return "illegal_action"
	}
}

// progress advances the hand as far as it can go without player input:
// auto-folds for players who left, street changes once a round
// completes, and conclusion once no further betting is possible.
func (o *Orchestrator) progress() {
	for o.handActive {
		if engine.HandOver(o.state) {
			o.concludeHand()
			return
		}
		if !engine.RoundComplete(o.state) {
			seat := o.state.Current
			if seat == engine.NoSeat {
				return
			}
			info, ok := o.seats[seat]
			if !ok || !o.pendingLeave[info.playerID] {
				return
			}
			next, err := engine.ApplyAction(o.state, seat, engine.Action{Type: engine.Fold})
			if err != nil {
				o.logger.Error("auto-fold failed", "seat", seat, "err", err)
				return
			}
			o.state = next
			o.publish(ActionAppliedEvent{
				TableID: o.cfg.TableID,
				HandID:  o.handID,
				Seat:    seat,
				Action:  engine.Action{Type: engine.Fold},
				Pot:     next.TotalPot(),
				Phase:   next.Phase,
				At:      o.clock.Now(),
			})
			o.broadcast(protocol.MustMessage(protocol.TypeActionApplied, protocol.ActionAppliedData{
				TableID: o.cfg.TableID,
				HandID:  o.handID,
				Seat:    seat,
				Action:  engine.Fold.String(),
				Pot:     next.TotalPot(),
				Phase:   next.Phase.String(),
			}))
			continue
		}

		o.state = engine.StartNewRound(o.state, o.state.Phase+1)
		if o.state.Phase != engine.Showdown {
			o.broadcast(protocol.MustMessage(protocol.TypeStreetChange, protocol.StreetChangeData{
				TableID: o.cfg.TableID,
				HandID:  o.handID,
				Phase:   o.state.Phase.String(),
				Pot:     o.state.Pot,
			}))
		}
	}
}

func (o *Orchestrator) concludeHand() {
	st := engine.CollectBets(o.state)

	contenders := make([]engine.Player, 0, len(st.Players))
	for _, p := range st.Players {
		if !p.Folded {
			contenders = append(contenders, p)
		}
	}

	pots := engine.SidePots(contenders)
	covered := 0
	for _, p := range pots {
		covered += p.Amount
	}
	if len(pots) == 0 {
		eligible := make([]int, 0, len(contenders))
		for _, p := range contenders {
			eligible = append(eligible, p.Seat)
		}
		pots = []engine.SidePot{{Eligible: eligible}}
	}
	// Folded players' money belongs to the main pot.
	pots[0].Amount += st.Pot - covered

	showdown := len(contenders) > 1

	payout := make(map[int]int)
	awards := make([]PotAward, 0, len(pots))
	for _, pot := range pots {
		winners := pot.Eligible
		if len(pot.Eligible) > 1 {
			cards := make(map[int][]string, len(pot.Eligible))
			for _, seat := range pot.Eligible {
				cards[seat] = o.holeCards[seat]
			}
			winners = o.resolver.Winners(pot.Eligible, cards)
			if len(winners) == 0 {
				winners = pot.Eligible
			}
		}
		sort.Ints(winners)
		share := pot.Amount / len(winners)
		remainder := pot.Amount % len(winners)
		for i, w := range winners {
			payout[w] += share
			if i < remainder {
				payout[w]++
			}
		}
		awards = append(awards, PotAward{Amount: pot.Amount, Eligible: pot.Eligible, Winners: winners})
	}

	results := make([]PlayerResult, 0, len(st.Players))
	stacks := make(map[int]int, len(st.Players))
	for _, p := range st.Players {
		final := p.Stack + payout[p.Seat]
		playerID := ""
		if info, ok := o.seats[p.Seat]; ok {
			info.stack = final
			playerID = info.playerID
		}
		stacks[p.Seat] = final
		pr := PlayerResult{
			Seat:        p.Seat,
			PlayerID:    playerID,
			Folded:      p.Folded,
			Contributed: p.TotalBet,
			StackAfter:  final,
		}
		if !p.Folded && showdown {
			pr.HoleCards = o.holeCards[p.Seat]
		}
		results = append(results, pr)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Seat < results[j].Seat })

	potResults := make([]protocol.PotResult, len(awards))
	for i, a := range awards {
		potResults[i] = protocol.PotResult{Amount: a.Amount, Eligible: a.Eligible, Winners: a.Winners}
	}
	o.broadcast(protocol.MustMessage(protocol.TypeHandResult, protocol.HandResultData{
		TableID: o.cfg.TableID,
		HandID:  o.handID,
		Pots:    potResults,
		Stacks:  stacks,
	}))
	o.publish(HandCompletedEvent{
		TableID: o.cfg.TableID,
		HandID:  o.handID,
		Button:  o.button,
		Players: results,
		Pots:    awards,
		At:      o.clock.Now(),
	})
	o.logger.Info("hand completed", "hand", o.handID, "pots", len(awards))

	o.handActive = false
	o.holeCards = nil
	for playerID := range o.pendingLeave {
		if seat := o.seatOf(playerID); seat != engine.NoSeat {
			delete(o.seats, seat)
		}
		delete(o.pendingLeave, playerID)
	}
}

// broadcast sends to every live connection at the table and queues for
// seated players who are currently disconnected.
func (o *Orchestrator) broadcast(msg *protocol.Message) {
	o.bcast.BroadcastToTable(o.cfg.TableID, msg, "")
	for _, info := range o.seats {
		if !o.queue.Connected(info.playerID) {
			o.queue.QueueMessage(info.playerID, msg)
		}
	}
}

func (o *Orchestrator) sendOrQueue(playerID string, msg *protocol.Message) {
	if err := o.bcast.SendToPlayer(o.cfg.TableID, playerID, msg); err != nil {
		o.queue.QueueMessage(playerID, msg)
	}
}

// broadcastState sends each seat its own redacted snapshot. Hole cards
// appear only in the owner's copy; allowed actions only in the acting
// seat's copy.
func (o *Orchestrator) broadcastState() {
	for seat, info := range o.seats {
		o.sendOrQueue(info.playerID, o.snapshotFor(seat))
	}
}

func (o *Orchestrator) snapshotFor(viewer int) *protocol.Message {
	data := protocol.TableStateData{
		TableID:     o.cfg.TableID,
		HandID:      o.handID,
		Phase:       o.state.Phase.String(),
		Pot:         o.state.TotalPot(),
		CurrentBet:  o.state.CurrentBet,
		MinRaise:    o.state.MinRaise,
		CurrentSeat: o.state.Current,
	}
	for _, p := range o.state.Players {
		ss := protocol.SeatState{
			Seat:         p.Seat,
			Stack:        p.Stack,
			BetThisRound: p.BetThisRound,
			TotalBet:     p.TotalBet,
			Folded:       p.Folded,
			AllIn:        p.AllIn,
		}
		if info, ok := o.seats[p.Seat]; ok {
			ss.PlayerID = info.playerID
		}
		if p.Seat == viewer {
			ss.HoleCards = o.holeCards[p.Seat]
		}
		data.Seats = append(data.Seats, ss)
	}
	if o.state.Current == viewer {
		data.Allowed = allowedPayload(o.state, viewer)
	}
	return protocol.MustMessage(protocol.TypeTableState, data)
}

func allowedPayload(t engine.Table, seat int) []protocol.AllowedAction {
	opts := engine.AllowedActions(t, seat)
	out := make([]protocol.AllowedAction, len(opts))
	for i, opt := range opts {
		out[i] = protocol.AllowedAction{Action: opt.Type.String(), Min: opt.Min, Max: opt.Max}
	}
	return out
}
