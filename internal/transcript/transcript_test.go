package transcript

import (
	"errors"
	"testing"
)

// memStore is an in-memory Store that records saves and can simulate
// failures.
type memStore struct {
	entries  []Entry
	saves    int
	failSave bool
}

func (s *memStore) Load() []Entry { return s.entries }

func (s *memStore) Save(entries []Entry) error {
	if s.failSave {
		return errors.New("disk full")
	}
	s.saves++
	s.entries = append([]Entry(nil), entries...)
	return nil
}

func TestLog_AppendGeneratesPrefixedID(t *testing.T) {
	t.Parallel()

	l := NewLog(nil, 40)
	id := l.Append(SpeakerUser, "hi", false, "")
	if id == "" {
		t.Fatal("empty generated id")
	}
	if got := l.Entries(); len(got) != 1 || got[0].ID != id || got[0].Speaker != SpeakerUser {
		t.Errorf("entries = %+v", got)
	}
}

func TestLog_UpsertStreamingReplacesInPlace(t *testing.T) {
	t.Parallel()

	l := NewLog(nil, 40)
	l.UpsertStreaming("r1", SpeakerAssistant, "hel")
	l.UpsertStreaming("r1", SpeakerAssistant, "hello")
	l.FinishStreaming("r1")

	got := l.Entries()
	if len(got) != 1 {
		t.Fatalf("entries = %d; want 1", len(got))
	}
	if got[0].Text != "hello" || got[0].Streaming {
		t.Errorf("entry = %+v; want text hello, streaming=false", got[0])
	}
}

func TestLog_RemoveAndSetText(t *testing.T) {
	t.Parallel()

	l := NewLog(nil, 40)
	keep := l.Append(SpeakerUser, "keep", false, "")
	drop := l.Append(SpeakerUser, "Listening...", true, "")

	l.Remove(drop)
	l.SetText(keep, "kept", false)
	l.SetText("missing", "ignored", false) // no-op

	got := l.Entries()
	if len(got) != 1 || got[0].Text != "kept" {
		t.Errorf("entries = %+v", got)
	}
}

func TestLog_BoundedToMax(t *testing.T) {
	t.Parallel()

	l := NewLog(nil, 3)
	for _, text := range []string{"a", "b", "c", "d", "e"} {
		l.Append(SpeakerUser, text, false, "")
	}

	got := l.Entries()
	if len(got) != 3 {
		t.Fatalf("entries = %d; want 3", len(got))
	}
	if got[0].Text != "c" || got[2].Text != "e" {
		t.Errorf("kept wrong window: %+v", got)
	}
}

func TestLog_PersistsEveryMutation(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	l := NewLog(store, 40)

	id := l.Append(SpeakerUser, "one", false, "")
	l.SetText(id, "two", false)
	l.Remove(id)

	if store.saves != 3 {
		t.Errorf("saves = %d; want 3", store.saves)
	}
}

func TestLog_SaveFailureDoesNotDisrupt(t *testing.T) {
	t.Parallel()

	l := NewLog(&memStore{failSave: true}, 40)
	l.Append(SpeakerUser, "still recorded", false, "")
	if got := l.Entries(); len(got) != 1 {
		t.Errorf("entries = %d; want 1", len(got))
	}
}

func TestLog_RecentUserTexts(t *testing.T) {
	t.Parallel()

	l := NewLog(nil, 40)
	l.Append(SpeakerUser, "one", false, "")
	l.Append(SpeakerAssistant, "reply", false, "")
	l.Append(SpeakerUser, "two", false, "")
	l.Append(SpeakerUser, "Listening...", true, "") // placeholder, skipped
	l.Append(SpeakerUser, "three", false, "")

	got := l.RecentUserTexts(3)
	want := []string{"one", "two", "three"}
	if len(got) != len(want) {
		t.Fatalf("texts = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("texts[%d] = %q; want %q", i, got[i], want[i])
		}
	}
}

func TestNewLog_HydratesFromStore(t *testing.T) {
	t.Parallel()

	store := &memStore{entries: []Entry{
		{ID: "a", Speaker: SpeakerUser, Text: "restored"},
	}}
	l := NewLog(store, 40)
	if got := l.Entries(); len(got) != 1 || got[0].Text != "restored" {
		t.Errorf("entries = %+v", got)
	}
}
