// Package registry owns the table -> player -> socket mapping. It
// enforces per-table capacity, tracks liveness with ping/pong, and keeps
// total memory bounded by evicting the least recently active table when
// the global table limit is hit. Registries are constructed explicitly
// and shut down explicitly; there is no process-global state.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/clubroyale/tablecore/internal/protocol"
)

var (
	// ErrTableFull rejects a connection to a table at seat capacity.
	ErrTableFull = errors.New("table is full")
	// ErrNotConnected reports a send to a player with no live socket.
	ErrNotConnected = errors.New("player not connected")
	// ErrShutdown reports use of a registry after Shutdown.
	ErrShutdown = errors.New("registry is shut down")
)

// Config bounds the registry's resource usage.
type Config struct {
	MaxConnsPerTable int           // poker table seat cap
	MaxTables        int           // global bound, LRA-evicted beyond this
	StaleAfter       time.Duration // pong older than this counts as a miss
	MaxMissedPings   int           // consecutive misses before forced removal
	IdleTableTTL     time.Duration // empty table record lifetime
	CleanupInterval  time.Duration
	SendBuffer       int
	WriteTimeout     time.Duration
	PongWait         time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConnsPerTable: 9,
		MaxTables:        256,
		StaleAfter:       30 * time.Second,
		MaxMissedPings:   3,
		IdleTableTTL:     2 * time.Minute,
		CleanupInterval:  15 * time.Second,
		SendBuffer:       256,
		WriteTimeout:     10 * time.Second,
		PongWait:         60 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConnsPerTable <= 0 {
		c.MaxConnsPerTable = d.MaxConnsPerTable
	}
	if c.MaxTables <= 0 {
		c.MaxTables = d.MaxTables
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = d.StaleAfter
	}
	if c.MaxMissedPings <= 0 {
		c.MaxMissedPings = d.MaxMissedPings
	}
	if c.IdleTableTTL <= 0 {
		c.IdleTableTTL = d.IdleTableTTL
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	return c
}

type tableEntry struct {
	conns      map[string]*Conn
	emptySince time.Time // zero while occupied
}

// Registry is the single owner of every live socket.
type Registry struct {
	cfg    Config
	clock  quartz.Clock
	logger *log.Logger

	mu     sync.Mutex
	tables *lru.Cache[string, *tableEntry]
	closed bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a registry and starts its cleanup loop.
func New(cfg Config, clock quartz.Clock, logger *log.Logger) *Registry {
	cfg = cfg.withDefaults()

	r := &Registry{
		cfg:    cfg,
		clock:  clock,
		logger: logger.WithPrefix("registry"),
		stop:   make(chan struct{}),
	}
	// The eviction callback fires while r.mu is held; closing connections
	// takes no registry locks.
	r.tables, _ = lru.NewWithEvict(cfg.MaxTables, func(tableID string, entry *tableEntry) {
		for _, conn := range entry.conns {
			conn.closeWithReason(websocket.CloseGoingAway, "table evicted")
		}
		if len(entry.conns) > 0 {
			r.logger.Warn("evicted least recently active table", "table", tableID, "connections", len(entry.conns))
		}
	})

	r.wg.Add(1)
	go r.run()
	return r
}

// Shutdown stops the cleanup loop and closes every connection.
func (r *Registry) Shutdown() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()

	r.mu.Lock()
	r.closed = true
	r.tables.Purge()
	r.mu.Unlock()
}

// AddConnection registers a socket for a player at a table. A second
// connection for the same player replaces the first, which is closed with
// a "replaced" reason. A new player on a full table is rejected with
// ErrTableFull.
func (r *Registry) AddConnection(tableID, playerID string, sock Socket) (*Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrShutdown
	}

	entry, ok := r.tables.Get(tableID)
	if !ok {
		entry = &tableEntry{conns: make(map[string]*Conn)}
		r.tables.Add(tableID, entry)
	}

	old, seated := entry.conns[playerID]
	if !seated && len(entry.conns) >= r.cfg.MaxConnsPerTable {
		return nil, ErrTableFull
	}
	if seated {
		r.logger.Info("replacing connection", "table", tableID, "player", playerID)
		old.closeWithReason(websocket.CloseNormalClosure, "replaced")
	}

	conn := newConn(sock, tableID, playerID, r.cfg, r.clock, r.logger)
	entry.conns[playerID] = conn
	entry.emptySince = time.Time{}
	return conn, nil
}

// RemoveConnection closes and forgets a player's socket. An emptied table
// record lingers for IdleTableTTL so brief full-table churn doesn't thrash
// the cache.
func (r *Registry) RemoveConnection(tableID, playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(tableID, playerID)
}

// RemoveConn closes and forgets one specific connection. Unlike
// RemoveConnection it is a no-op when the player has already been rebound
// to a newer connection, so a stale read loop winding down cannot tear
// down its replacement.
func (r *Registry) RemoveConn(tableID string, conn *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.tables.Peek(tableID)
	if !ok {
		return false
	}
	if current, ok := entry.conns[conn.PlayerID()]; !ok || current != conn {
		// Superseded; the replacement stays registered.
		_ = conn.Close()
		return false
	}
	return r.removeLocked(tableID, conn.PlayerID())
}

func (r *Registry) removeLocked(tableID, playerID string) bool {
	entry, ok := r.tables.Peek(tableID)
	if !ok {
		return false
	}
	conn, ok := entry.conns[playerID]
	if !ok {
		return false
	}
	_ = conn.Close()
	delete(entry.conns, playerID)
	if len(entry.conns) == 0 {
		entry.emptySince = r.clock.Now()
	}
	return true
}

// Connection returns the live connection for a player, if any.
func (r *Registry) Connection(tableID, playerID string) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.tables.Peek(tableID)
	if !ok {
		return nil, false
	}
	conn, ok := entry.conns[playerID]
	return conn, ok
}

// BroadcastToTable fans a message out to every connection at the table,
// optionally excluding one player. A failed send schedules that
// connection's removal and never blocks the others. Returns how many
// sends were accepted.
func (r *Registry) BroadcastToTable(tableID string, msg *protocol.Message, excludePlayerID string) int {
	r.mu.Lock()
	entry, ok := r.tables.Get(tableID) // touch recency: broadcasting means active
	if !ok {
		r.mu.Unlock()
		return 0
	}
	conns := make([]*Conn, 0, len(entry.conns))
	for playerID, conn := range entry.conns {
		if playerID != excludePlayerID {
			conns = append(conns, conn)
		}
	}
	r.mu.Unlock()

	sent := 0
	var failed []*Conn
	for _, conn := range conns {
		if err := conn.Send(msg); err != nil {
			failed = append(failed, conn)
			continue
		}
		sent++
	}
	for _, conn := range failed {
		r.logger.Info("dropping connection after failed broadcast", "table", tableID, "player", conn.PlayerID())
		r.RemoveConn(tableID, conn)
	}
	return sent
}

// SendToPlayer queues a message for one player at a table.
func (r *Registry) SendToPlayer(tableID, playerID string, msg *protocol.Message) error {
	conn, ok := r.Connection(tableID, playerID)
	if !ok {
		return ErrNotConnected
	}
	return conn.Send(msg)
}

// PingAll sweeps every connection: stale peers accrue a missed ping and
// are force-removed after MaxMissedPings consecutive misses; everyone
// else gets a probe.
func (r *Registry) PingAll() (sent, stale int) {
	type ref struct {
		tableID string
		conn    *Conn
	}
	r.mu.Lock()
	var all []ref
	for _, tableID := range r.tables.Keys() {
		entry, ok := r.tables.Peek(tableID)
		if !ok {
			continue
		}
		for _, conn := range entry.conns {
			all = append(all, ref{tableID, conn})
		}
	}
	r.mu.Unlock()

	now := r.clock.Now()
	for _, rc := range all {
		missed := rc.conn.checkLiveness(now, r.cfg.StaleAfter)
		if missed > 0 {
			stale++
			if missed >= r.cfg.MaxMissedPings {
				r.logger.Info("removing stale connection", "table", rc.tableID, "player", rc.conn.PlayerID(), "missed", missed)
				rc.conn.closeWithReason(websocket.CloseGoingAway, "stale")
				r.RemoveConn(rc.tableID, rc.conn)
				continue
			}
		}
		rc.conn.Ping()
		sent++
	}
	return sent, stale
}

// ConnectionCount returns the number of live connections.
func (r *Registry) ConnectionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, tableID := range r.tables.Keys() {
		if entry, ok := r.tables.Peek(tableID); ok {
			n += len(entry.conns)
		}
	}
	return n
}

// TableCount returns the number of table records in memory.
func (r *Registry) TableCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tables.Len()
}

func (r *Registry) run() {
	defer r.wg.Done()
	ticker := r.clock.NewTicker(r.cfg.CleanupInterval, "registry", "cleanup")
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.PingAll()
			r.evictIdleTables()
		case <-r.stop:
			return
		}
	}
}

// evictIdleTables drops table records that have been empty longer than
// IdleTableTTL.
func (r *Registry) evictIdleTables() {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tableID := range r.tables.Keys() {
		entry, ok := r.tables.Peek(tableID)
		if !ok {
			continue
		}
		if len(entry.conns) == 0 && !entry.emptySince.IsZero() && now.Sub(entry.emptySince) >= r.cfg.IdleTableTTL {
			r.logger.Debug("evicting idle table", "table", tableID)
			r.tables.Remove(tableID)
		}
	}
}
