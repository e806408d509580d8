package lock

import (
	"path/filepath"
	"testing"
)

func TestTryAcquireSecondCallerYields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fabrik.lock")

	first, ok, err := TryAcquire(path)
	if err != nil {
		t.Fatalf("first TryAcquire: %v", err)
	}
	if !ok {
		t.Fatal("first TryAcquire: ok = false, want true")
	}
	defer first.Release()

	second, ok, err := TryAcquire(path)
	if err != nil {
		t.Fatalf("second TryAcquire: %v", err)
	}
	if ok {
		t.Fatal("second TryAcquire: ok = true while first holds the lock, want false")
	}
	if second != nil {
		t.Fatal("second TryAcquire: sentinel non-nil despite ok = false")
	}
}

func TestReleaseAllowsReacquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fabrik.lock")

	s, ok, err := TryAcquire(path)
	if err != nil || !ok {
		t.Fatalf("TryAcquire: ok=%v err=%v", ok, err)
	}
	if err := s.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	s2, ok, err := TryAcquire(path)
	if err != nil {
		t.Fatalf("second TryAcquire: %v", err)
	}
	if !ok {
		t.Fatal("second TryAcquire after release: ok = false, want true")
	}
	defer s2.Release()
}

func TestReleaseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fabrik.lock")
	s, ok, err := TryAcquire(path)
	if err != nil || !ok {
		t.Fatalf("TryAcquire: ok=%v err=%v", ok, err)
	}
	if err := s.Release(); err != nil {
		t.Fatalf("first Release: %v", err)
	}
	if err := s.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
}
