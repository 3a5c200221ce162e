// Package session owns cross-connection player identity: which table a
// player occupies, the reconnect token that lets them resume after a
// network drop, and the bounded queue of messages they missed while away.
// Sockets are only ever closed here, never read or written; delivery is
// the registry's job.
package session

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/oklog/ulid/v2"

	"github.com/clubroyale/tablecore/internal/protocol"
)

// Socket is the minimal handle a session keeps on a live connection:
// enough to close a superseded one and to recognize it at disconnect.
type Socket interface {
	Close() error
}

// Config bounds session memory and token lifetime.
type Config struct {
	QueueLimit     int           // oldest messages drop beyond this
	TokenTTL       time.Duration // reconnect window after a disconnect
	IdleSessionTTL time.Duration // unlocated idle sessions purge after this
	SweepInterval  time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		QueueLimit:     100,
		TokenTTL:       2 * time.Minute,
		IdleSessionTTL: 10 * time.Minute,
		SweepInterval:  30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.QueueLimit <= 0 {
		c.QueueLimit = d.QueueLimit
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = d.TokenTTL
	}
	if c.IdleSessionTTL <= 0 {
		c.IdleSessionTTL = d.IdleSessionTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	return c
}

type session struct {
	playerID     string
	tableID      string
	tournamentID string
	ip           string
	sock         Socket // nil while disconnected
	queue        []*protocol.Message
	token        string
	tokenExpiry  time.Time // only enforced while disconnected
	lastActive   time.Time
}

// Disconnect describes what HandleDisconnect resolved for a dropped
// socket.
type Disconnect struct {
	PlayerID string
	Token    string
	TableID  string
}

// ReconnectData carries everything a resuming client needs: a fresh token
// and the messages queued since it dropped, in original order.
type ReconnectData struct {
	PlayerID     string
	TableID      string
	TournamentID string
	Token        string
	Missed       []*protocol.Message
}

// Manager tracks every player session. All state is guarded by one mutex;
// token consumption in AttemptReconnect is atomic with respect to the
// background sweep and concurrent reconnect attempts.
type Manager struct {
	cfg    Config
	clock  quartz.Clock
	logger *log.Logger

	mu       sync.Mutex
	sessions map[string]*session // playerID -> session
	tokens   map[string]string   // token -> playerID
	bySock   map[Socket]string   // live socket -> playerID

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a manager and starts its sweep loop.
func New(cfg Config, clock quartz.Clock, logger *log.Logger) *Manager {
	m := &Manager{
		cfg:      cfg.withDefaults(),
		clock:    clock,
		logger:   logger.WithPrefix("session"),
		sessions: make(map[string]*session),
		tokens:   make(map[string]string),
		bySock:   make(map[Socket]string),
		stop:     make(chan struct{}),
	}
	m.wg.Add(1)
	go m.run()
	return m
}

// Shutdown stops the sweep loop. Sessions are abandoned, not closed: the
// registry owns socket teardown.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
}

// CreateSession binds a socket to a player identity. If the player
// already has a session the prior socket is closed (not errored) and any
// messages queued while they were away are returned for redelivery.
// The returned token resumes this session after an unexpected drop.
func (m *Manager) CreateSession(playerID string, sock Socket, ip string) (isReconnect bool, token string, pending []*protocol.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()

	s, ok := m.sessions[playerID]
	if !ok {
		s = &session{playerID: playerID}
		m.sessions[playerID] = s
	}

	if s.sock != nil {
		_ = s.sock.Close()
		delete(m.bySock, s.sock)
	}

	s.ip = ip
	s.sock = sock
	s.lastActive = now
	pending = s.queue
	s.queue = nil
	m.bySock[sock] = playerID

	m.rotateTokenLocked(s)
	return ok, s.token, pending
}

// HandleDisconnect marks a session socketless and arms its reconnect
// token with a fresh expiry. It reports false for sockets the manager
// has never seen (already replaced or never registered).
func (m *Manager) HandleDisconnect(sock Socket) (Disconnect, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	playerID, ok := m.bySock[sock]
	if !ok {
		return Disconnect{}, false
	}
	delete(m.bySock, sock)

	s := m.sessions[playerID]
	s.sock = nil
	s.lastActive = m.clock.Now()
	s.tokenExpiry = s.lastActive.Add(m.cfg.TokenTTL)

	m.logger.Info("player disconnected", "player", playerID, "table", s.tableID)
	return Disconnect{PlayerID: playerID, Token: s.token, TableID: s.tableID}, true
}

// AttemptReconnect consumes a token and rebinds the session to the new
// socket. Unknown or expired tokens return nil. Exactly one of any number
// of concurrent attempts with the same token can succeed: the token is
// rotated under the lock before anything is returned.
func (m *Manager) AttemptReconnect(token string, sock Socket, ip string) *ReconnectData {
	m.mu.Lock()
	defer m.mu.Unlock()

	playerID, ok := m.tokens[token]
	if !ok {
		return nil
	}
	s := m.sessions[playerID]
	now := m.clock.Now()
	if s.sock == nil && now.After(s.tokenExpiry) {
		m.expireTokenLocked(s)
		return nil
	}

	if s.sock != nil {
		_ = s.sock.Close()
		delete(m.bySock, s.sock)
	}
	s.sock = sock
	s.ip = ip
	s.lastActive = now
	m.bySock[sock] = playerID

	missed := s.queue
	s.queue = nil
	m.rotateTokenLocked(s)

	m.logger.Info("player reconnected", "player", playerID, "table", s.tableID, "missed", len(missed))
	return &ReconnectData{
		PlayerID:     playerID,
		TableID:      s.tableID,
		TournamentID: s.tournamentID,
		Token:        s.token,
		Missed:       missed,
	}
}

// QueueMessage buffers a message for a disconnected player. It returns
// false when the player is connected (deliver directly instead) or
// unknown. Beyond QueueLimit the oldest entry is dropped.
func (m *Manager) QueueMessage(playerID string, msg *protocol.Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[playerID]
	if !ok || s.sock != nil {
		return false
	}
	s.queue = append(s.queue, msg)
	if len(s.queue) > m.cfg.QueueLimit {
		s.queue = s.queue[1:]
	}
	return true
}

// SetLocation records which table/tournament the player occupies. Located
// sessions are exempt from idle purging.
func (m *Manager) SetLocation(playerID, tableID, tournamentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[playerID]; ok {
		s.tableID = tableID
		s.tournamentID = tournamentID
		s.lastActive = m.clock.Now()
	}
}

// Location returns the player's current table and tournament.
func (m *Manager) Location(playerID string) (tableID, tournamentID string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, found := m.sessions[playerID]
	if !found {
		return "", "", false
	}
	return s.tableID, s.tournamentID, true
}

// Connected reports whether the player currently has a live socket.
func (m *Manager) Connected(playerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[playerID]
	return ok && s.sock != nil
}

// Len returns the number of tracked sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) rotateTokenLocked(s *session) {
	if s.token != "" {
		delete(m.tokens, s.token)
	}
	s.token = ulid.MustNew(ulid.Timestamp(m.clock.Now()), rand.Reader).String()
	// Far-future while connected; HandleDisconnect arms the real window.
	s.tokenExpiry = m.clock.Now().Add(24 * time.Hour)
	m.tokens[s.token] = s.playerID
}

func (m *Manager) expireTokenLocked(s *session) {
	delete(m.tokens, s.token)
	s.token = ""
}

func (m *Manager) run() {
	defer m.wg.Done()
	ticker := m.clock.NewTicker(m.cfg.SweepInterval, "session", "sweep")
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stop:
			return
		}
	}
}

// sweep purges expired tokens and destroys sessions that are
// disconnected, unlocated and idle beyond IdleSessionTTL.
func (m *Manager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()

	for playerID, s := range m.sessions {
		if s.sock != nil {
			continue
		}
		if s.token != "" && now.After(s.tokenExpiry) {
			m.expireTokenLocked(s)
		}
		if s.tableID == "" && s.tournamentID == "" && now.Sub(s.lastActive) > m.cfg.IdleSessionTTL {
			m.logger.Debug("purging idle session", "player", playerID)
			delete(m.sessions, playerID)
			if s.token != "" {
				delete(m.tokens, s.token)
			}
		}
	}
}
