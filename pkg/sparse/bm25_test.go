package sparse

import "testing"

func TestTokenize(t *testing.T) {
	got := Tokenize("Hello, World! It's 2024.")
	want := []string{"hello", "world", "it", "s", "2024"}
	if len(got) != len(want) {
		t.Fatalf("tokens = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSearchRanksRelevantFirst(t *testing.T) {
	ix := New()
	ix.Add(1, "the quick brown fox jumps over the lazy dog")
	ix.Add(2, "go is a programming language designed at google")
	ix.Add(3, "the go gopher is the mascot of the go programming language")
	ix.Add(4, "foxes are small omnivorous mammals")

	results := ix.Search("go programming", 10)
	if len(results) < 2 {
		t.Fatalf("results = %v", results)
	}
	if results[0].Slot != 3 {
		t.Errorf("top result = slot %d, want 3 (two 'go' mentions)", results[0].Slot)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Error("results not sorted by descending score")
		}
	}
	for _, r := range results {
		if r.Slot == 1 || r.Slot == 4 {
			t.Errorf("slot %d should not match 'go programming'", r.Slot)
		}
	}
}

func TestSearchRespectsK(t *testing.T) {
	ix := New()
	for i := uint32(0); i < 20; i++ {
		ix.Add(i, "shared term document")
	}
	if got := ix.Search("shared", 5); len(got) != 5 {
		t.Errorf("k not respected: %d results", len(got))
	}
}

func TestAddReplacesAndRemove(t *testing.T) {
	ix := New()
	ix.Add(1, "old content about cats")
	ix.Add(1, "new content about dogs")

	if got := ix.Search("cats", 10); len(got) != 0 {
		t.Errorf("stale terms survive re-add: %v", got)
	}
	if got := ix.Search("dogs", 10); len(got) != 1 {
		t.Errorf("re-added content not found: %v", got)
	}

	ix.Remove(1)
	if ix.Docs() != 0 {
		t.Errorf("docs after remove = %d", ix.Docs())
	}
	if got := ix.Search("dogs", 10); len(got) != 0 {
		t.Errorf("removed doc still found: %v", got)
	}
}

func TestRebuildFromStream(t *testing.T) {
	// Rebuilding is just streaming Add over all payloads; verify the
	// result is equivalent to the incrementally built index.
	docs := map[uint32]string{
		10: "memory engines store vectors",
		11: "vectors enable semantic recall",
		12: "recall blends dense and sparse signals",
	}

	inc := New()
	for slot, text := range docs {
		inc.Add(slot, text)
	}
	rebuilt := New()
	for slot, text := range docs {
		rebuilt.Add(slot, text)
	}

	a := inc.Search("vectors recall", 10)
	b := rebuilt.Search("vectors recall", 10)
	if len(a) != len(b) {
		t.Fatalf("result counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("result %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}
