// Package handhistory records completed hands as JSONL files, one
// directory per table. It consumes orchestrator events and never blocks
// the table: records buffer in memory and a background goroutine flushes
// on an interval or once enough hands accumulate.
package handhistory

import (
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"github.com/clubroyale/tablecore/internal/table"
)

// Config controls where and how often hands are written.
type Config struct {
	BaseDir       string
	FlushInterval time.Duration
	FlushHands    int // a table with this many buffered hands requests an early flush
	Clock         quartz.Clock
}

func (c Config) withDefaults() Config {
	if c.BaseDir == "" {
		c.BaseDir = "hands"
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 10 * time.Second
	}
	if c.FlushHands <= 0 {
		c.FlushHands = 100
	}
	if c.Clock == nil {
		c.Clock = quartz.NewReal()
	}
	return c
}

// Manager owns one recorder per table and coordinates their flushing.
// It implements table.Listener so it can be registered directly on an
// orchestrator.
type Manager struct {
	cfg    Config
	logger zerolog.Logger

	mu        sync.Mutex
	recorders map[string]*recorder

	flushReq chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates and starts a hand history manager.
func NewManager(logger zerolog.Logger, cfg Config) *Manager {
	m := &Manager{
		cfg:       cfg.withDefaults(),
		logger:    logger,
		recorders: make(map[string]*recorder),
		flushReq:  make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
	m.wg.Add(1)
	go m.run()
	return m
}

// Shutdown stops the flush loop and writes everything still buffered.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
	m.flushAll()
}

// OnActionApplied buffers an action against its hand.
func (m *Manager) OnActionApplied(ev table.ActionAppliedEvent) {
	m.recorderFor(ev.TableID).addAction(ev)
}

// OnHandCompleted turns the buffered actions and the result into one
// record and requests a flush once the table has enough of them.
func (m *Manager) OnHandCompleted(ev table.HandCompletedEvent) {
	if m.recorderFor(ev.TableID).complete(ev, m.cfg.FlushHands) {
		m.requestFlush()
	}
}

// RemoveTable flushes and drops the recorder for a table that went away.
func (m *Manager) RemoveTable(tableID string) {
	m.mu.Lock()
	rec, ok := m.recorders[tableID]
	if ok {
		delete(m.recorders, tableID)
	}
	m.mu.Unlock()

	if ok {
		if err := rec.flush(); err != nil {
			m.logger.Error().Err(err).Str("table_id", tableID).Msg("hand history flush on remove failed")
		}
	}
}

// Flush writes every table's buffered hands now.
func (m *Manager) Flush() {
	m.flushAll()
}

func (m *Manager) recorderFor(tableID string) *recorder {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recorders[tableID]
	if !ok {
		rec = newRecorder(m.cfg.BaseDir, tableID)
		m.recorders[tableID] = rec
	}
	return rec
}

func (m *Manager) requestFlush() {
	select {
	case m.flushReq <- struct{}{}:
	default:
	}
}

func (m *Manager) run() {
	defer m.wg.Done()
	ticker := m.cfg.Clock.NewTicker(m.cfg.FlushInterval, "handhistory", "flush")
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.flushAll()
		case <-m.flushReq:
			m.flushAll()
		case <-m.stop:
			return
		}
	}
}

func (m *Manager) flushAll() {
	m.mu.Lock()
	snapshot := make(map[string]*recorder, len(m.recorders))
	for k, v := range m.recorders {
		snapshot[k] = v
	}
	m.mu.Unlock()

	for tableID, rec := range snapshot {
		err := rec.flush()
		if err != nil {
			m.logger.Error().Err(err).Str("table_id", tableID).Msg("hand history flush failed")
		}
		if disabled, dropped := rec.noteFlushResult(err); disabled {
			m.logger.Error().Str("table_id", tableID).Int("dropped_hands", dropped).
				Msg("hand history recording disabled after repeated failures")
			m.mu.Lock()
			delete(m.recorders, tableID)
			m.mu.Unlock()
		}
	}
}
