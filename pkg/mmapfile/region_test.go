package mmapfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const testMagic = 0x54455354

func TestCreateOpenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region.bin")

	r, err := Create(path, testMagic, 1, 4096)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	copy(r.Data(), []byte("hello region"))
	if err := r.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	r2, err := Open(path, testMagic, 1)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r2.Close()

	if string(r2.Data()[:12]) != "hello region" {
		t.Errorf("payload not preserved: %q", r2.Data()[:12])
	}
	if r2.Version() != 1 {
		t.Errorf("version = %d, want 1", r2.Version())
	}
	if r2.Len() != 4096 {
		t.Errorf("len = %d, want 4096", r2.Len())
	}
}

func TestOpenEmptyFileIsCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.bin")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := Open(path, testMagic, 1)
	if !errors.Is(err, ErrCorruptHeader) {
		t.Errorf("expected ErrCorruptHeader, got %v", err)
	}
}

func TestOpenBadMagicIsCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.bin")
	r, err := Create(path, 0xDEADBEEF, 1, 64)
	if err != nil {
		t.Fatal(err)
	}
	r.Close()

	_, err = Open(path, testMagic, 1)
	if !errors.Is(err, ErrCorruptHeader) {
		t.Errorf("expected ErrCorruptHeader, got %v", err)
	}
}

func TestOpenVersionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.bin")
	r, err := Create(path, testMagic, 1, 64)
	if err != nil {
		t.Fatal(err)
	}
	r.Close()

	r2, err := Open(path, testMagic, 2)
	if !errors.Is(err, ErrIncompatibleVersion) {
		t.Fatalf("expected ErrIncompatibleVersion, got %v", err)
	}
	// Region stays open for migration.
	if r2 == nil {
		t.Fatal("region should be returned for migration")
	}
	if r2.Version() != 1 {
		t.Errorf("stored version = %d, want 1", r2.Version())
	}
	r2.Close()
}

func TestResizePreservesPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grow.bin")
	r, err := Create(path, testMagic, 1, 128)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	copy(r.Data(), []byte("keep me"))
	if err := r.Resize(1 << 16); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	if r.Len() != 1<<16 {
		t.Errorf("len after resize = %d", r.Len())
	}
	if string(r.Data()[:7]) != "keep me" {
		t.Errorf("payload lost across resize: %q", r.Data()[:7])
	}
}

func TestSnapshotCounterMonotonic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.bin")
	r, err := Create(path, testMagic, 1, 64)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	prev := r.SnapshotCounter()
	for i := 0; i < 5; i++ {
		n := r.BumpSnapshotCounter()
		if n <= prev {
			t.Fatalf("counter not increasing: %d after %d", n, prev)
		}
		prev = n
	}
}
