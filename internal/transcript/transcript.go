// Package transcript maintains the running conversation transcript: an
// ordered, bounded log of user and assistant entries with write-through
// persistence. The log survives session teardown — it is the one piece of
// session state that outlives the control channel.
package transcript

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Entry is one transcript line. A streaming entry's text may be replaced in
// place until the stream finishes; all other mutations are append or delete.
type Entry struct {
	ID        string    `json:"id"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Streaming bool      `json:"streaming,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists the transcript. Load must never fail: corrupt or missing
// data yields an empty transcript.
type Store interface {
	Load() []Entry
	Save(entries []Entry) error
}

// Log is the in-memory transcript with write-through persistence. Every
// mutation is saved to the store; save failures are logged and otherwise
// ignored so a broken disk never disrupts a live call.
//
// Log is safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	store   Store
	max     int
	now     func() time.Time
}

// NewLog creates a Log bounded to max entries, hydrated from store.
// A nil store disables persistence.
func NewLog(store Store, max int) *Log {
	l := &Log{store: store, max: max, now: time.Now}
	if store != nil {
		l.entries = store.Load()
		l.trimLocked()
	}
	return l
}

// Append adds a new entry and returns its id. An empty id is replaced with a
// generated one prefixed by the speaker role.
func (l *Log) Append(speaker Speaker, text string, streaming bool, id string) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if id == "" {
		id = string(speaker) + "-" + uuid.NewString()
	}
	l.entries = append(l.entries, Entry{
		ID:        id,
		Speaker:   speaker,
		Text:      text,
		Streaming: streaming,
		CreatedAt: l.now(),
	})
	l.trimLocked()
	l.persistLocked()
	return id
}

// SetText replaces the text (and streaming flag) of the entry with the given
// id. Unknown ids are ignored.
func (l *Log) SetText(id, text string, streaming bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.entries {
		if l.entries[i].ID == id {
			l.entries[i].Text = text
			l.entries[i].Streaming = streaming
			l.persistLocked()
			return
		}
	}
}

// UpsertStreaming replaces the text of the streaming entry with the given id,
// creating it if absent. Used for assistant text deltas, where the response
// id doubles as the entry id.
func (l *Log) UpsertStreaming(id string, speaker Speaker, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.entries {
		if l.entries[i].ID == id {
			l.entries[i].Text = text
			l.entries[i].Streaming = true
			l.persistLocked()
			return
		}
	}
	l.entries = append(l.entries, Entry{
		ID:        id,
		Speaker:   speaker,
		Text:      text,
		Streaming: true,
		CreatedAt: l.now(),
	})
	l.trimLocked()
	l.persistLocked()
}

// FinishStreaming clears the streaming flag of the entry with the given id.
func (l *Log) FinishStreaming(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.entries {
		if l.entries[i].ID == id {
			l.entries[i].Streaming = false
			l.persistLocked()
			return
		}
	}
}

// Remove deletes the entry with the given id. Unknown ids are ignored.
func (l *Log) Remove(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.entries {
		if l.entries[i].ID == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			l.persistLocked()
			return
		}
	}
}

// Clear deletes all entries and persists the empty transcript.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.persistLocked()
}

// Entries returns a snapshot copy of the transcript in order.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// RecentUserTexts returns the texts of up to n most recent user entries, in
// chronological order. Streaming placeholders are skipped — they hold UI
// filler, not speech.
func (l *Log) RecentUserTexts(n int) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []string
	for i := len(l.entries) - 1; i >= 0 && len(out) < n; i-- {
		e := l.entries[i]
		if e.Speaker == SpeakerUser && !e.Streaming {
			out = append(out, e.Text)
		}
	}
	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (l *Log) trimLocked() {
	if l.max > 0 && len(l.entries) > l.max {
		l.entries = append([]Entry(nil), l.entries[len(l.entries)-l.max:]...)
	}
}

func (l *Log) persistLocked() {
	if l.store == nil {
		return
	}
	if err := l.store.Save(l.entries); err != nil {
		slog.Warn("transcript: save failed", "err", err)
	}
}
