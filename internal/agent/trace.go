package agent

import (
	"sync"
	"time"
)

const defaultTraceLimit = 1000

// Transition is one state change of a task.
type Transition struct {
	At       time.Time `json:"at"`
	From     Phase     `json:"from"`
	To       Phase     `json:"to"`
	Step     int       `json:"step"`
	SubStep  int       `json:"sub_step"`
	Attempts int       `json:"attempts"`
	Note     string    `json:"note,omitempty"`
}

// Trace keeps the most recent transitions for inspection by the host.
type Trace struct {
	mu      sync.Mutex
	limit   int
	entries []Transition
}

func NewTrace(limit int) *Trace {
	if limit <= 0 {
		limit = defaultTraceLimit
	}
	return &Trace{limit: limit}
}

func (t *Trace) Record(tr Transition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, tr)
	if over := len(t.entries) - t.limit; over > 0 {
		t.entries = append([]Transition(nil), t.entries[over:]...)
	}
}

// Entries returns a copy of the recorded transitions, oldest first.
func (t *Trace) Entries() []Transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Transition(nil), t.entries...)
}
