// Package notify carries user-facing toasts raised by the governance flow.
package notify

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notifier is the sink for toast-style notifications.
type Notifier interface {
	Notify(title, description string, level Level)
}

// Notification is one delivered toast.
type Notification struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Level       Level     `json:"level"`
	At          time.Time `json:"at"`
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(string, string, Level) {}

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	logger *log.Logger
}

func NewLogNotifier(logger *log.Logger) *LogNotifier {
	if logger == nil {
		logger = log.New(os.Stdout, "[notify] ", log.LstdFlags)
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(title, description string, level Level) {
	n.logger.Printf("%s: %s - %s", level, title, description)
}

// Feed keeps the most recent notifications in memory for the API.
type Feed struct {
	mu    sync.Mutex
	limit int
	items []Notification
	now   func() time.Time
}

// NewFeed returns a Feed holding at most limit entries (100 when limit <= 0).
func NewFeed(limit int, now func() time.Time) *Feed {
	if limit <= 0 {
		limit = 100
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Feed{limit: limit, now: now}
}

func (f *Feed) Notify(title, description string, level Level) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, Notification{
		ID:          uuid.New().String(),
		Title:       title,
		Description: description,
		Level:       level,
		At:          f.now(),
	})
	if over := len(f.items) - f.limit; over > 0 {
		f.items = append([]Notification{}, f.items[over:]...)
	}
}

// Recent returns up to n notifications, newest first. n <= 0 returns all.
func (f *Feed) Recent(n int) []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n <= 0 || n > len(f.items) {
		n = len(f.items)
	}
	out := make([]Notification, 0, n)
	for i := len(f.items) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, f.items[i])
	}
	return out
}

// Multi delivers every notification to each wrapped Notifier in order.
type Multi []Notifier

func (m Multi) Notify(title, description string, level Level) {
	for _, n := range m {
		if n != nil {
			n.Notify(title, description, level)
		}
	}
}
