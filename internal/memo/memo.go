// Package memo implements the Memorandum, a size-bounded append-only
// notebook an orchestrator session uses to carry findings across rounds
// without resending full context to the model.
package memo

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	// MaxContentChars bounds a single entry's content, enforced at append.
	MaxContentChars = 400

	// MaxTitleChars bounds a single entry's title.
	MaxTitleChars = 80

	// DefaultReadBudget is the Read budget used when maxChars <= 0.
	DefaultReadBudget = 1400

	// TruncationSuffix marks content cut at MaxContentChars.
	TruncationSuffix = "... [truncated]"
)

// Entry is one note. Lengths are counted in characters (runes).
type Entry struct {
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Memorandum is safe for concurrent use. Entries can only be removed all at
// once with Clear.
type Memorandum struct {
	mu      sync.RWMutex
	entries []Entry
	now     func() time.Time
}

// New returns an empty Memorandum. Use one per task.
func New() *Memorandum {
	return &Memorandum{now: time.Now}
}

// Append stores a note, truncating content longer than MaxContentChars.
func (m *Memorandum) Append(title, content, source string) Entry {
	e := Entry{
		Title:     truncateRunes(strings.TrimSpace(title), MaxTitleChars, ""),
		Content:   truncateRunes(content, MaxContentChars, TruncationSuffix),
		Source:    source,
		Timestamp: m.now(),
	}

	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return e
}

// Read renders the notebook as Markdown within maxChars characters.
//
// The newest entries that fit are kept and rendered oldest to newest.
// Older entries that do not fit are dropped whole and replaced by a single
// "N records omitted" line at the top. An entry is never partially rendered.
func (m *Memorandum) Read(maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultReadBudget
	}

	m.mu.RLock()
	blocks := make([]string, len(m.entries))
	for i, e := range m.entries {
		blocks[i] = renderEntry(e)
	}
	m.mu.RUnlock()

	if len(blocks) == 0 {
		return ""
	}

	// Reserve room for the widest possible marker up front so adding it
	// can never push the result over budget.
	reserve := utf8.RuneCountInString(omittedNote(len(blocks))) + len(blockSep)

	used := 0
	first := len(blocks)
	for i := len(blocks) - 1; i >= 0; i-- {
		n := utf8.RuneCountInString(blocks[i])
		if used > 0 {
			n += len(blockSep)
		}
		budget := maxChars
		if i > 0 {
			budget -= reserve
		}
		if used+n > budget {
			break
		}
		used += n
		first = i
	}

	kept := blocks[first:]
	omitted := first
	if omitted == 0 {
		return strings.Join(kept, blockSep)
	}

	note := omittedNote(omitted)
	if len(kept) == 0 {
		if utf8.RuneCountInString(note) > maxChars {
			return ""
		}
		return note
	}
	return note + blockSep + strings.Join(kept, blockSep)
}

// Entries returns a copy of all entries, oldest first.
func (m *Memorandum) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Clear removes every entry.
func (m *Memorandum) Clear() {
	m.mu.Lock()
	m.entries = nil
	m.mu.Unlock()
}

// Count returns the number of entries.
func (m *Memorandum) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// IsEmpty reports whether there are no entries.
func (m *Memorandum) IsEmpty() bool {
	return m.Count() == 0
}

const blockSep = "\n\n"

func renderEntry(e Entry) string {
	header := "### " + e.Title
	if e.Source != "" {
		header += " (" + e.Source + ")"
	}
	return header + "\n" + e.Content
}

func omittedNote(n int) string {
	return fmt.Sprintf("_%d records omitted_", n)
}

// truncateRunes cuts s to max runes, appending suffix when it cuts.
func truncateRunes(s string, max int, suffix string) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + suffix
}
