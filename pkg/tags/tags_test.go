package tags

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPostings(t *testing.T) {
	ix, err := Open(filepath.Join(t.TempDir(), "test.tags"))
	if err != nil {
		t.Fatal(err)
	}

	ix.Add("rust", 1)
	ix.Add("rust", 2)
	ix.Add("go", 2)
	ix.Add("go", 3)

	if got := ix.SlotsWithTag("rust").ToArray(); len(got) != 2 {
		t.Errorf("rust postings = %v", got)
	}
	if !ix.HasTag("go", 3) || ix.HasTag("go", 1) {
		t.Error("HasTag wrong")
	}

	both := ix.SlotsWithAllTags([]string{"rust", "go"})
	if both.GetCardinality() != 1 || !both.Contains(2) {
		t.Errorf("intersection = %v", both.ToArray())
	}

	if got := ix.SlotsWithAllTags([]string{"rust", "missing"}); !got.IsEmpty() {
		t.Errorf("intersection with unknown tag should be empty, got %v", got.ToArray())
	}

	tagsFor2 := ix.TagsForSlot(2)
	if len(tagsFor2) != 2 || tagsFor2[0] != "go" || tagsFor2[1] != "rust" {
		t.Errorf("TagsForSlot(2) = %v", tagsFor2)
	}
}

func TestRemoveSlot(t *testing.T) {
	ix, _ := Open(filepath.Join(t.TempDir(), "test.tags"))
	ix.Add("only", 7)
	ix.Add("shared", 7)
	ix.Add("shared", 8)

	ix.RemoveSlot(7)

	if len(ix.Tags()) != 1 {
		t.Errorf("tags after RemoveSlot = %v (empty postings should vanish)", ix.Tags())
	}
	if ix.HasTag("shared", 7) || !ix.HasTag("shared", 8) {
		t.Error("RemoveSlot touched the wrong slots")
	}
}

func TestSidecarRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.tags")

	ix, _ := Open(path)
	ix.Add("alpha", 10)
	ix.Add("alpha", 20)
	ix.Add("beta", 20)
	ix.DefineRealm("brahman", "")
	ix.DefineRealm("work", "brahman")
	ix.DefineRealm("project", "work")
	if err := ix.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	ix2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if got := ix2.SlotsWithTag("alpha").ToArray(); len(got) != 2 {
		t.Errorf("alpha postings after reload = %v", got)
	}
	anc := ix2.RealmAncestry("project")
	if len(anc) != 3 || anc[0] != "project" || anc[2] != "brahman" {
		t.Errorf("ancestry = %v", anc)
	}
}

func TestCorruptSidecar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.tags")
	if err := os.WriteFile(path, []byte("not a sidecar at all"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Error("corrupt sidecar should fail to open")
	}
}
