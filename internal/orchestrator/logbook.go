package orchestrator

import (
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

// defaultLogbookSize bounds the entries kept across tasks.
const defaultLogbookSize = 2000

// LogEntry is one line of the in-memory log book.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	TaskID  string    `json:"taskId"`
	Phase   string    `json:"phase,omitempty"`
	Message string    `json:"message"`
}

// logbook keeps the most recent entries at or above a level.
type logbook struct {
	mu      sync.Mutex
	entries []LogEntry
	max     int
	level   zapcore.Level
}

func newLogbook(max int, level zapcore.Level) *logbook {
	return &logbook{max: max, level: level}
}

func (b *logbook) add(e LogEntry, level zapcore.Level) {
	if level < b.level {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, e)
	if over := len(b.entries) - b.max; over > 0 {
		b.entries = append([]LogEntry(nil), b.entries[over:]...)
	}
}

func (b *logbook) all() []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]LogEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

func (b *logbook) forTask(taskID string) []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []LogEntry{}
	for _, e := range b.entries {
		if e.TaskID == taskID {
			out = append(out, e)
		}
	}
	return out
}

func (b *logbook) clear() {
	b.mu.Lock()
	b.entries = nil
	b.mu.Unlock()
}
