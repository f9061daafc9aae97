// Package watchlist implements the JSON-backed user watchlist of spec §6:
// three named code lists persisted to a single file, read-whole-file and
// write-whole-file, no partial updates. Grounded on the teacher's
// (now-superseded) industry-filter handlers, which persisted a small JSON
// document the same way: load the whole file, mutate in memory, write the
// whole file back under a mutex.
package watchlist

import (
	"encoding/json"
	"os"
	"sync"
)

// List holds the three named watchlist buckets.
type List struct {
	Favorites []string `json:"favorites"`
	Holdings  []string `json:"holdings"`
	Watching  []string `json:"watching"`
}

// Store guards a single on-disk JSON document with a mutex; every mutating
// call reads, mutates, and rewrites the whole file.
type Store struct {
	mu   sync.Mutex
	path string
}

// New returns a Store backed by path. The file need not exist yet; Get
// returns an empty List until the first Add.
func New(path string) *Store {
	return &Store{path: path}
}

// Get returns the current watchlist contents.
func (s *Store) Get() (List, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Add appends code to the named bucket ("favorites", "holdings",
// "watching") if not already present, and persists the result.
func (s *Store) Add(bucket, code string) (List, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.load()
	if err != nil {
		return List{}, err
	}
	ptr := bucketPtr(&list, bucket)
	if ptr == nil {
		return list, nil
	}
	if !contains(*ptr, code) {
		*ptr = append(*ptr, code)
	}
	return list, s.save(list)
}

// Remove deletes code from the named bucket if present, and persists the
// result.
func (s *Store) Remove(bucket, code string) (List, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.load()
	if err != nil {
		return List{}, err
	}
	ptr := bucketPtr(&list, bucket)
	if ptr == nil {
		return list, nil
	}
	out := (*ptr)[:0]
	for _, c := range *ptr {
		if c != code {
			out = append(out, c)
		}
	}
	*ptr = out
	return list, s.save(list)
}

func bucketPtr(list *List, bucket string) *[]string {
	switch bucket {
	case "favorites":
		return &list.Favorites
	case "holdings":
		return &list.Holdings
	case "watching":
		return &list.Watching
	default:
		return nil
	}
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func (s *Store) load() (List, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return List{}, nil
	}
	if err != nil {
		return List{}, err
	}
	var list List
	if err := json.Unmarshal(raw, &list); err != nil {
		return List{}, err
	}
	return list, nil
}

func (s *Store) save(list List) error {
	raw, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, raw, 0o644)
}
