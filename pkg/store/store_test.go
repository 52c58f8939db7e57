package store

import (
	"bytes"
	"testing"
)

func TestMemStore_GetSetDelete(t *testing.T) {
	s := NewMemStore()

	if _, err := s.Get("missing"); err != ErrNotFound {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}

	if err := s.Set("k", []byte("v1")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := s.Get("k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, []byte("v1")) {
		t.Errorf("Get = %q, want %q", got, "v1")
	}

	if err := s.Set("k", []byte("v2")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, _ = s.Get("k")
	if !bytes.Equal(got, []byte("v2")) {
		t.Errorf("Get after overwrite = %q, want %q", got, "v2")
	}

	if err := s.Delete("k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get("k"); err != ErrNotFound {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}

	// Deleting a missing key is not an error.
	if err := s.Delete("missing"); err != nil {
		t.Errorf("Delete(missing) = %v, want nil", err)
	}
}

func TestMemStore_DefensiveCopies(t *testing.T) {
	s := NewMemStore()

	value := []byte("original")
	if err := s.Set("k", value); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	value[0] = 'X'

	got, err := s.Get("k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, []byte("original")) {
		t.Error("mutating the caller's slice changed the stored value")
	}

	got[0] = 'Y'
	again, _ := s.Get("k")
	if !bytes.Equal(again, []byte("original")) {
		t.Error("mutating a returned slice changed the stored value")
	}
}

func TestMemStore_Isolation(t *testing.T) {
	a := NewMemStore()
	b := NewMemStore()

	if err := a.Set("k", []byte("v")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := b.Get("k"); err != ErrNotFound {
		t.Errorf("stores are not isolated: %v", err)
	}
}
