// Package audit keeps an append-only JSON-lines trail of session events and
// dashboard mutations.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// Event is one line of the trail. Request fields are empty for events that
// did not originate from an HTTP request, such as a session restore.
type Event struct {
	ID        string `json:"id"`
	At        string `json:"at"`
	Actor     string `json:"actor,omitempty"`
	Action    string `json:"action"`
	Target    string `json:"target,omitempty"`
	Outcome   string `json:"outcome"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	ClientIP  string `json:"client_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

type Logger struct {
	path string
	now  func() time.Time

	mu sync.Mutex
}

// NewLogger appends to path. An empty path disables recording.
func NewLogger(path string) *Logger {
	return &Logger{path: path, now: time.Now}
}

// Record writes a session event with no request context.
func (l *Logger) Record(actor, action, outcome, detail string) error {
	return l.Write(Event{Actor: actor, Action: action, Outcome: outcome, Detail: detail})
}

// Write stamps e with an id and time when they are unset and appends it.
func (l *Logger) Write(e Event) error {
	if l == nil || l.path == "" {
		return nil
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At == "" {
		e.At = l.now().UTC().Format(time.RFC3339)
	}
	if e.Action == "" {
		return fmt.Errorf("audit event has no action")
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("mkdir audit log dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}
