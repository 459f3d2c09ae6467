package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"finsight/pkg/api"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var filenameSafeRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-]`)

// Store persists the UI messages of each session as one JSON file.
// A Store with an empty directory keeps nothing.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore initializes a Store rooted at dir, creating it when needed.
func NewStore(dir string) (*Store, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create session dir: %w", err)
		}
	}
	return &Store{dir: dir}, nil
}

// Enabled reports whether messages are written to disk.
func (s *Store) Enabled() bool {
	return s != nil && s.dir != ""
}

func (s *Store) path(key string) string {
	safeID := filenameSafeRegex.ReplaceAllString(key, "_")
	return filepath.Join(s.dir, fmt.Sprintf("history_%s.json", safeID))
}

// Load returns the messages saved for key. A missing file is an empty session.
func (s *Store) Load(key string) ([]api.Message, error) {
	if !s.Enabled() {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", key, err)
	}
	var msgs []api.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", key, err)
	}
	return msgs, nil
}

// Save replaces the messages stored for key.
func (s *Store) Save(key string, msgs []api.Message) error {
	if !s.Enabled() {
		return nil
	}
	data, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// 先寫暫存檔再 rename，避免中途當機留下半個 JSON
	tmp, err := os.CreateTemp(s.dir, "history_*.tmp")
	if err != nil {
		return fmt.Errorf("save session %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("save session %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save session %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		return fmt.Errorf("save session %s: %w", key, err)
	}
	return nil
}

// Delete removes the stored session.
func (s *Store) Delete(key string) error {
	if !s.Enabled() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete session %s: %w", key, err)
	}
	return nil
}
