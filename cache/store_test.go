package cache

import (
	"path/filepath"
	"testing"
)

// ---------------------------------------------------------------------------
// Store tests
// ---------------------------------------------------------------------------

func TestStorePutGet(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	hash := HashSource("println(1)")
	if _, ok, err := s.Get(hash); err != nil || ok {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}
	if err := s.Put(hash, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	blob, ok, err := s.Get(hash)
	if err != nil || !ok {
		t.Fatalf("get after put: ok=%v err=%v", ok, err)
	}
	if len(blob) != 3 || blob[0] != 1 {
		t.Errorf("blob mismatch: %v", blob)
	}
}

func TestStorePutReplaces(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	hash := HashSource("x")
	if err := s.Put(hash, []byte{1}); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(hash, []byte{2}); err != nil {
		t.Fatal(err)
	}
	blob, ok, err := s.Get(hash)
	if err != nil || !ok {
		t.Fatal(err)
	}
	if blob[0] != 2 {
		t.Errorf("replacement not stored: %v", blob)
	}
}

func TestHashSourceStable(t *testing.T) {
	if HashSource("a") != HashSource("a") {
		t.Error("hash must be stable")
	}
	if HashSource("a") == HashSource("b") {
		t.Error("hash must distinguish sources")
	}
}
