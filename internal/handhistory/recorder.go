package handhistory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/clubroyale/tablecore/internal/table"
)

const maxFlushFailures = 3

// Record is one completed hand as written to disk.
type Record struct {
	HandID      string               `json:"handId"`
	TableID     string               `json:"tableId"`
	Button      int                  `json:"button"`
	CompletedAt time.Time            `json:"completedAt"`
	Players     []table.PlayerResult `json:"players"`
	Pots        []table.PotAward     `json:"pots"`
	Actions     []ActionRecord       `json:"actions"`
}

// ActionRecord is one betting action within a hand.
type ActionRecord struct {
	Seat   int       `json:"seat"`
	Action string    `json:"action"`
	Amount int       `json:"amount,omitempty"`
	Phase  string    `json:"phase"`
	At     time.Time `json:"at"`
}

// recorder buffers records for a single table. Flushes append JSONL to
// <base>/table-<id>/hands.jsonl.
type recorder struct {
	path string

	mu       sync.Mutex
	actions  map[string][]ActionRecord // keyed by hand ID until completion
	pending  []Record
	failures int
	disabled bool
}

func newRecorder(baseDir, tableID string) *recorder {
	return &recorder{
		path:    filepath.Join(baseDir, "table-"+tableID, "hands.jsonl"),
		actions: make(map[string][]ActionRecord),
	}
}

func (r *recorder) addAction(ev table.ActionAppliedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disabled {
		return
	}
	r.actions[ev.HandID] = append(r.actions[ev.HandID], ActionRecord{
		Seat:   ev.Seat,
		Action: ev.Action.Type.String(),
		Amount: ev.Action.Amount,
		Phase:  ev.Phase.String(),
		At:     ev.At,
	})
}

// complete folds the hand's buffered actions into a record and reports
// whether the pending buffer has reached flushHands.
func (r *recorder) complete(ev table.HandCompletedEvent, flushHands int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disabled {
		return false
	}
	r.pending = append(r.pending, Record{
		HandID:      ev.HandID,
		TableID:     ev.TableID,
		Button:      ev.Button,
		CompletedAt: ev.At,
		Players:     ev.Players,
		Pots:        ev.Pots,
		Actions:     r.actions[ev.HandID],
	})
	delete(r.actions, ev.HandID)
	return len(r.pending) >= flushHands
}

func (r *recorder) flush() error {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	path := r.path
	r.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		r.requeue(batch)
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		r.requeue(batch)
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for i, rec := range batch {
		if err := enc.Encode(rec); err != nil {
			r.requeue(batch[i:])
			return err
		}
	}
	return nil
}

// requeue puts unwritten records back at the front of the buffer.
func (r *recorder) requeue(batch []Record) {
	r.mu.Lock()
	r.pending = append(batch, r.pending...)
	r.mu.Unlock()
}

// noteFlushResult tracks consecutive failures; after maxFlushFailures
// the recorder disables itself and its buffer is dropped.
func (r *recorder) noteFlushResult(err error) (disabled bool, dropped int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		r.failures = 0
		return false, 0
	}
	r.failures++
	if r.failures < maxFlushFailures {
		return false, 0
	}
	r.disabled = true
	dropped = len(r.pending)
	r.pending = nil
	r.actions = make(map[string][]ActionRecord)
	return true, dropped
}
