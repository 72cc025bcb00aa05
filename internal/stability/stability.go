package stability

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

var ErrCache = errors.New("stability cache error")

// One cached verdict for a package.
type Entry struct {
	ParallelUnstable bool      `json:"parallel_unstable"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// A flock-guarded JSON stability cache.
type Store struct {
	path string
	mu   sync.Mutex
}

// Opens a store backed by the given cache file. The file and its parent
// directory are created on first write.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Reports whether the package is flagged as unstable under parallel make.
//
// Read failures are treated as an empty cache: a damaged or missing cache
// only costs one extra parallel attempt, it never blocks a build.
func (s *Store) ParallelUnstable(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.withLock(unix.LOCK_SH, s.load)
	if err != nil {
		return false
	}
	return entries[name].ParallelUnstable
}

// Records that the package failed under parallel make and succeeded
// serially. Later runs start it at one job.
func (s *Store) MarkParallelUnstable(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.withLock(unix.LOCK_EX, func() (map[string]Entry, error) {
		entries, err := s.load()
		if err != nil {
			return nil, err
		}
		entries[name] = Entry{ParallelUnstable: true, UpdatedAt: time.Now().UTC()}
		return entries, s.commit(entries)
	})
	return err
}

// Returns a copy of every cached entry.
func (s *Store) Entries() (map[string]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withLock(unix.LOCK_SH, s.load)
}

// Runs fn while holding the given flock mode on the store's lock file.
func (s *Store) withLock(how int, fn func() (map[string]Entry, error)) (map[string]Entry, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCache, err)
	}

	lock, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCache, err)
	}
	defer lock.Close()

	if err := unix.Flock(int(lock.Fd()), how); err != nil {
		return nil, fmt.Errorf("%w: flock: %w", ErrCache, err)
	}
	defer unix.Flock(int(lock.Fd()), unix.LOCK_UN)

	return fn()
}

// Reads the cache file. A missing file is an empty cache.
func (s *Store) load() (map[string]Entry, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string]Entry), nil
		}
		return nil, fmt.Errorf("%w: %w", ErrCache, err)
	}

	entries := make(map[string]Entry)
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCache, err)
	}
	return entries, nil
}

// Writes the cache atomically via a temp file in the same directory.
func (s *Store) commit(entries map[string]Entry) error {
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCache, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCache, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %w", ErrCache, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrCache, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("%w: %w", ErrCache, err)
	}
	return nil
}
