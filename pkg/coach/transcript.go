package coach

import (
	"sync"
	"time"
)

// TranscriptLog is an append-only record of one session's spoken text.
type TranscriptLog struct {
	mu      sync.RWMutex
	entries []TranscriptEntry
}

// NewTranscriptLog returns an empty log.
func NewTranscriptLog() *TranscriptLog {
	return &TranscriptLog{entries: make([]TranscriptEntry, 0)}
}

// Append records text for speaker and returns the stored entry.
func (t *TranscriptLog) Append(speaker Speaker, text string) TranscriptEntry {
	entry := TranscriptEntry{
		Speaker:   speaker,
		Text:      text,
		Timestamp: time.Now(),
	}

	t.mu.Lock()
	t.entries = append(t.entries, entry)
	t.mu.Unlock()
	return entry
}

// Entries returns a copy of every entry in arrival order.
func (t *TranscriptLog) Entries() []TranscriptEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]TranscriptEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Recent returns the last n entries, oldest first.
func (t *TranscriptLog) Recent(n int) []TranscriptEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if n <= 0 {
		return []TranscriptEntry{}
	}
	start := len(t.entries) - n
	if start < 0 {
		start = 0
	}
	out := make([]TranscriptEntry, len(t.entries)-start)
	copy(out, t.entries[start:])
	return out
}

// Len returns the number of entries.
func (t *TranscriptLog) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
