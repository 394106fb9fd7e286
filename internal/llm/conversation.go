package llm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const DefaultHistoryWindow = 6

// Exchange is one prompt and the model's reply.
type Exchange struct {
	Prompt   string    `json:"prompt"`
	Response string    `json:"response"`
	At       time.Time `json:"at"`
}

// Conversation keeps two views of the exchanges of a task: a bounded working
// window that is replayed to the model, and an unbounded audit log that never is.
type Conversation struct {
	mu      sync.Mutex
	window  int
	working []Exchange
	audit   []Exchange
	now     func() time.Time
}

func NewConversation(window int) *Conversation {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	return &Conversation{window: window, now: time.Now}
}

func (c *Conversation) Record(prompt, response string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ex := Exchange{Prompt: prompt, Response: response, At: c.now()}
	c.audit = append(c.audit, ex)
	c.working = append(c.working, ex)
	if over := len(c.working) - c.window; over > 0 {
		c.working = append([]Exchange(nil), c.working[over:]...)
	}
}

// Working returns a copy of the replay window, oldest first.
func (c *Conversation) Working() []Exchange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Exchange(nil), c.working...)
}

// Audit returns a copy of every exchange since the last Reset.
func (c *Conversation) Audit() []Exchange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Exchange(nil), c.audit...)
}

// Reset starts a new task.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.working = nil
	c.audit = nil
}

// WriteAudit dumps the audit log as indented JSON.
func (c *Conversation) WriteAudit(path string) error {
	data, err := json.MarshalIndent(c.Audit(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal audit: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create audit dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write audit: %w", err)
	}
	return nil
}
