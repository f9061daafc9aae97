package watchlist

import (
	"path/filepath"
	"testing"
)

func TestAddAndGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchlist.json")
	s := New(path)

	if _, err := s.Add("favorites", "sh600519"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	list, err := s.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(list.Favorites) != 1 || list.Favorites[0] != "sh600519" {
		t.Errorf("Favorites = %v, want [sh600519]", list.Favorites)
	}
}

func TestAddIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchlist.json")
	s := New(path)

	s.Add("holdings", "sz000001")
	s.Add("holdings", "sz000001")
	list, _ := s.Get()
	if len(list.Holdings) != 1 {
		t.Errorf("Holdings = %v, want a single entry after duplicate Add", list.Holdings)
	}
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchlist.json")
	s := New(path)

	s.Add("watching", "hk00700")
	s.Add("watching", "sh601318")
	if _, err := s.Remove("watching", "hk00700"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	list, _ := s.Get()
	if len(list.Watching) != 1 || list.Watching[0] != "sh601318" {
		t.Errorf("Watching = %v, want [sh601318]", list.Watching)
	}
}

func TestGetOnMissingFileReturnsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")
	s := New(path)

	list, err := s.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(list.Favorites)+len(list.Holdings)+len(list.Watching) != 0 {
		t.Errorf("list = %+v, want all-empty", list)
	}
}

func TestPersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchlist.json")
	s1 := New(path)
	s1.Add("favorites", "sh600519")

	s2 := New(path)
	list, err := s2.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(list.Favorites) != 1 {
		t.Errorf("Favorites after reload = %v, want [sh600519]", list.Favorites)
	}
}
