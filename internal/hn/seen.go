package hn

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// SeenSet tracks item IDs that have already been emitted, persisted as
// newline-separated integers so a restart does not re-process the whole
// tree. The fetcher is the only writer.
type SeenSet struct {
	mu   sync.RWMutex
	ids  map[int64]struct{}
	file *os.File
}

// OpenSeenSet loads (or creates) the history file at path. Malformed lines
// are skipped rather than failing the load.
func OpenSeenSet(path string) (*SeenSet, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating history dir: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening history file: %w", err)
	}

	ids := make(map[int64]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		id, err := strconv.ParseInt(scanner.Text(), 10, 64)
		if err != nil {
			continue
		}
		ids[id] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading history file: %w", err)
	}

	return &SeenSet{ids: ids, file: f}, nil
}

// Contains reports whether id has already been emitted.
func (s *SeenSet) Contains(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Add marks id as emitted and appends it to the history file. Persistence
// failures are returned but the in-memory mark sticks, so the current run
// still deduplicates.
func (s *SeenSet) Add(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; ok {
		return nil
	}
	s.ids[id] = struct{}{}

	if _, err := fmt.Fprintf(s.file, "%d\n", id); err != nil {
		return fmt.Errorf("appending to history file: %w", err)
	}
	return nil
}

// Len returns the number of tracked IDs.
func (s *SeenSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// Close closes the underlying history file.
func (s *SeenSet) Close() error {
	return s.file.Close()
}
