package transcript

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// HistoryKey is the fixed storage key the transcript is persisted under. The
// file store derives its default file name from it.
const HistoryKey = "edu-navtalk-history"

// FileStore persists the transcript as a single JSON array in a local file.
// Thread-safe for concurrent use.
type FileStore struct {
	mu   sync.Mutex
	path string
	max  int
}

// NewFileStore creates a FileStore writing to path, keeping at most max
// entries. An empty path defaults to "<HistoryKey>.json" in the working
// directory.
func NewFileStore(path string, max int) *FileStore {
	if path == "" {
		path = HistoryKey + ".json"
	}
	return &FileStore{path: path, max: max}
}

// Load reads the persisted transcript. Missing or corrupt data yields an
// empty transcript, never an error.
func (fs *FileStore) Load() []Entry {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := os.ReadFile(fs.path)
	if err != nil {
		return nil
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil
	}
	return entries
}

// Save writes the most recent entries (bounded by max) as a JSON array. The
// file is written atomically via a rename to avoid corrupting the history on
// a crash mid-write.
func (fs *FileStore) Save(entries []Entry) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.max > 0 && len(entries) > fs.max {
		entries = entries[len(entries)-fs.max:]
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("transcript: marshal history: %w", err)
	}

	tmp := fs.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(fs.path), 0o755); err != nil {
		return fmt.Errorf("transcript: create history dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("transcript: write history: %w", err)
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		return fmt.Errorf("transcript: replace history: %w", err)
	}
	return nil
}
