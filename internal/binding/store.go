package binding

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/guard22/opencoder-telegram-plugin-sub000/internal/logger"
)

const fileVersion = 1

// fileDoc is the on-disk shape: {"version":1,"topics":[...]}.
type fileDoc struct {
	Version int        `json:"version"`
	Topics  []*Binding `json:"topics"`
}

// Store keeps all bindings in memory and mirrors every change to a
// single JSON file. A missing or unreadable file is a cold start, not
// an error; write failures are returned so callers know the change may
// not be durable.
type Store struct {
	mu   sync.Mutex
	path string
	all  []*Binding
}

func Open(path string) *Store {
	s := &Store{path: path}
	s.load()
	return s
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("bindings file unreadable, starting empty", "path", s.path, "error", err)
		}
		return
	}

	var doc fileDoc
	if err := json.Unmarshal(data, &doc); err != nil || doc.Version != fileVersion {
		logger.Warn("bindings file malformed, starting empty", "path", s.path, "error", err)
		return
	}

	s.all = doc.Topics
	logger.Info("bindings loaded", "path", s.path, "count", len(s.all))
}

// save serializes to a temp file and renames it over the real path so a
// crash mid-write never corrupts existing state. Caller holds s.mu.
func (s *Store) save() error {
	doc := fileDoc{Version: fileVersion, Topics: s.all}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal bindings: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create bindings dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write bindings: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace bindings: %w", err)
	}

	return nil
}

// ByThread returns the non-closed binding for a (chat, thread) pair.
func (s *Store) ByThread(chatID int64, threadID int) (*Binding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.all {
		if b.ChatID == chatID && b.ThreadID == threadID && !b.Closed() {
			return copyOf(b), true
		}
	}

	return nil, false
}

// BySession returns the binding for a session id, closed or not.
func (s *Store) BySession(sessionID string) (*Binding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b := s.bySessionLocked(sessionID); b != nil {
		return copyOf(b), true
	}

	return nil, false
}

func (s *Store) bySessionLocked(sessionID string) *Binding {
	for _, b := range s.all {
		if b.SessionID == sessionID {
			return b
		}
	}
	return nil
}

// Upsert inserts or replaces the binding keyed by session id and
// persists the result. Any other non-closed binding on the same
// (chat, thread) pair is closed first, so the one-session-per-topic
// invariant holds.
func (s *Store) Upsert(b *Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	b.UpdatedAt = now
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}

	if !b.Closed() {
		for _, other := range s.all {
			if other.SessionID != b.SessionID && other.ChatID == b.ChatID && other.ThreadID == b.ThreadID && !other.Closed() {
				other.State = StateClosed
				other.UpdatedAt = now
			}
		}
	}

	if existing := s.bySessionLocked(b.SessionID); existing != nil {
		*existing = *b
	} else {
		s.all = append(s.all, copyOf(b))
	}

	return s.save()
}

// Patch applies a mutation to the binding for sessionID and persists it.
// Returns the updated binding, or false if the session is unknown.
// Closed bindings are immutable and report absent: a retired record must
// never leave the closed state, or it would shadow the thread's current
// binding in ByThread.
func (s *Store) Patch(sessionID string, mutate func(*Binding)) (*Binding, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.bySessionLocked(sessionID)
	if b == nil || b.Closed() {
		return nil, false, nil
	}

	mutate(b)
	b.UpdatedAt = time.Now()

	return copyOf(b), true, s.save()
}

// CloseByThread retires the non-closed binding on a (chat, thread) pair.
func (s *Store) CloseByThread(chatID int64, threadID int) (*Binding, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.all {
		if b.ChatID == chatID && b.ThreadID == threadID && !b.Closed() {
			b.State = StateClosed
			b.UpdatedAt = time.Now()
			return copyOf(b), true, s.save()
		}
	}

	return nil, false, nil
}

// All returns a snapshot of every binding, closed ones included.
func (s *Store) All() []*Binding {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Binding, len(s.all))
	for i, b := range s.all {
		out[i] = copyOf(b)
	}

	return out
}

func copyOf(b *Binding) *Binding {
	c := *b
	return &c
}
