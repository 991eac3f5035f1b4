package store

import (
	"context"
	"errors"
	"testing"

	"github.com/alimasry/go-collab-model/ot"
)

func ctx() context.Context { return context.Background() }

func textSnapshot(content string, version int) SnapshotRecord {
	return SnapshotRecord{Content: content, Version: version, Type: ot.TextName}
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	s := NewMemoryStore()

	h, err := s.Create(ctx(), "doc1", SnapshotRecord{Content: "hello", Type: ot.TextName, Meta: map[string]any{"owner": "ann"}})
	if err != nil {
		t.Fatal(err)
	}
	if h == nil {
		t.Error("expected a handle from Create")
	}

	snap, _, err := s.GetSnapshot(ctx(), "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Content != "hello" || snap.Version != 0 || snap.Type != ot.TextName || snap.Meta["owner"] != "ann" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}

	// Returned metadata is a copy.
	snap.Meta["owner"] = "bob"
	again, _, _ := s.GetSnapshot(ctx(), "doc1")
	if again.Meta["owner"] != "ann" {
		t.Errorf("store metadata mutated through returned snapshot: %v", again.Meta)
	}
}

func TestMemoryStore_CreateDuplicate(t *testing.T) {
	s := NewMemoryStore()

	s.Create(ctx(), "doc1", textSnapshot("", 0))
	_, err := s.Create(ctx(), "doc1", textSnapshot("", 0))
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestMemoryStore_GetNotFound(t *testing.T) {
	s := NewMemoryStore()
	if _, _, err := s.GetSnapshot(ctx(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetOps(ctx(), "nope", 0, Latest); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := s.WriteOp(ctx(), "nope", OpRecord{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx(), "nope", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_Operations(t *testing.T) {
	s := NewMemoryStore()
	s.Create(ctx(), "doc1", textSnapshot("", 0))

	ops := []ot.Operation{
		ot.NewInsert(0, "hello", 0),
		ot.NewInsert(5, " world", 5),
		ot.NewDelete(0, 6, 11),
	}
	for i, op := range ops {
		if err := s.WriteOp(ctx(), "doc1", OpRecord{Op: op, Version: i}); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name       string
		start, end int
		want       []int
	}{
		{"all", 0, Latest, []int{0, 1, 2}},
		{"from 1", 1, Latest, []int{1, 2}},
		{"bounded", 0, 2, []int{0, 1}},
		{"empty range", 2, 2, nil},
		{"end past log", 1, 10, []int{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.GetOps(ctx(), "doc1", tt.start, tt.end)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d ops, want %d", len(got), len(tt.want))
			}
			for i, v := range tt.want {
				if got[i].Version != v {
					t.Errorf("op %d version = %d, want %d", i, got[i].Version, v)
				}
			}
		})
	}

	if _, err := s.GetOps(ctx(), "doc1", 3, 1); err == nil {
		t.Error("expected error for inverted range")
	}
}

func TestMemoryStore_WriteOpOutOfOrder(t *testing.T) {
	s := NewMemoryStore()
	s.Create(ctx(), "doc1", textSnapshot("", 0))

	err := s.WriteOp(ctx(), "doc1", OpRecord{Op: ot.NewInsert(0, "x", 0), Version: 3})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

func TestMemoryStore_WriteSnapshot(t *testing.T) {
	s := NewMemoryStore()
	h, _ := s.Create(ctx(), "doc1", textSnapshot("", 0))
	s.WriteOp(ctx(), "doc1", OpRecord{Op: ot.NewInsert(0, "hi", 0), Version: 0})

	h2, err := s.WriteSnapshot(ctx(), "doc1", textSnapshot("hi", 1), h)
	if err != nil {
		t.Fatal(err)
	}
	snap, _, _ := s.GetSnapshot(ctx(), "doc1")
	if snap.Content != "hi" || snap.Version != 1 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}

	// The old handle is stale now.
	if _, err := s.WriteSnapshot(ctx(), "doc1", textSnapshot("hi", 1), h); !errors.Is(err, ErrConflict) {
		t.Errorf("stale handle: err = %v, want ErrConflict", err)
	}
	// A snapshot cannot claim more ops than were logged.
	if _, err := s.WriteSnapshot(ctx(), "doc1", textSnapshot("hi!", 2), h2); !errors.Is(err, ErrConflict) {
		t.Errorf("ahead of log: err = %v, want ErrConflict", err)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	s := NewMemoryStore()
	s.Create(ctx(), "a", textSnapshot("", 0))
	s.Create(ctx(), "b", textSnapshot("", 0))

	if err := s.Delete(ctx(), "a", nil); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
	if _, _, err := s.GetSnapshot(ctx(), "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
