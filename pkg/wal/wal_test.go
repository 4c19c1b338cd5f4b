package wal

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestAppendReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wal")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	want := []Record{
		{Kind: KindFullNode, Payload: []byte("node one")},
		{Kind: KindTouch, Payload: []byte("touch")},
		{Kind: KindRemove, Payload: []byte{}},
	}
	for _, r := range want {
		if err := l.Append(r.Kind, r.Payload); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := l.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	l.Close()

	l2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer l2.Close()

	var got []Record
	err = l2.Replay(func(r Record) error {
		cp := make([]byte, len(r.Payload))
		copy(cp, r.Payload)
		got = append(got, Record{Kind: r.Kind, Payload: cp})
		return nil
	})
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	if len(got) != len(want) {
		t.Fatalf("replayed %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Kind != want[i].Kind || !bytes.Equal(got[i].Payload, want[i].Payload) {
			t.Errorf("record %d mismatch: %+v != %+v", i, got[i], want[i])
		}
	}
}

func TestReplayTruncatesCorruptTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.wal")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	l.Append(KindFullNode, []byte("good record"))
	l.Append(KindFullNode, []byte("to be corrupted"))
	l.Sync()
	l.Close()

	// Flip a byte inside the second record's payload.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	raw[len(raw)-6] ^= 0xFF
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatal(err)
	}

	l2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer l2.Close()

	count := 0
	if err := l2.Replay(func(r Record) error {
		count++
		return nil
	}); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if count != 1 {
		t.Errorf("replayed %d records past corruption, want 1", count)
	}

	// The corrupt tail must be gone so a fresh append is readable.
	if err := l2.Append(KindTouch, []byte("after repair")); err != nil {
		t.Fatal(err)
	}
	l2.Sync()

	count = 0
	if err := l2.Replay(func(r Record) error {
		count++
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("replayed %d records after repair, want 2", count)
	}
}

func TestResetEmptiesLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reset.wal")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	l.Append(KindFullNode, []byte("doomed"))
	if err := l.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if l.Size() != 0 {
		t.Errorf("size after reset = %d", l.Size())
	}

	count := 0
	l.Replay(func(Record) error { count++; return nil })
	if count != 0 {
		t.Errorf("replayed %d records from reset log", count)
	}
}
