package journal

import (
	"testing"
)

type fakeRecord struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestPutGetDelete(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	in := fakeRecord{Name: "conv-1", Count: 3}
	if err := store.Put("timers", "t-1", in); err != nil {
		t.Fatalf("put: %v", err)
	}

	var out fakeRecord
	if err := store.Get("timers", "t-1", &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if out != in {
		t.Fatalf("got %+v, want %+v", out, in)
	}

	if err := store.Delete("timers", "t-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Get("timers", "t-1", &out); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	// Deleting again is a no-op.
	if err := store.Delete("timers", "t-1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestPutOverwrites(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if err := store.Put("approvals", "a-1", fakeRecord{Count: 1}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put("approvals", "a-1", fakeRecord{Count: 2}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	var out fakeRecord
	if err := store.Get("approvals", "a-1", &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if out.Count != 2 {
		t.Fatalf("expected overwritten record, got count %d", out.Count)
	}
}

func TestList(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ids, err := store.List("timers")
	if err != nil {
		t.Fatalf("list empty: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no ids, got %v", ids)
	}

	for _, id := range []string{"t-1", "t-2", "t-3"} {
		if err := store.Put("timers", id, fakeRecord{Name: id}); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}

	ids, err = store.List("timers")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 ids, got %v", ids)
	}
}

func TestRejectsPathSeparators(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if err := store.Put("timers", "../escape", fakeRecord{}); err == nil {
		t.Fatal("expected error for id with path separator")
	}
	if err := store.Put("a/b", "x", fakeRecord{}); err == nil {
		t.Fatal("expected error for kind with path separator")
	}
}
