package importer

import (
	"context"
	"fmt"
	"testing"
)

func TestSideLogInMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	sl := newSideLog(0)
	defer sl.Close()

	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("id-%d", i)
		if err := sl.Append(ctx, "account", id, map[string]any{"primary_contact": "c-" + id}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	rows, err := sl.Replay(ctx, "account")
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(rows) != 10 {
		t.Fatalf("expected 10 rows, got %d", len(rows))
	}
	if rows[3].ID != "id-3" || rows[3].Fields["primary_contact"] != "c-id-3" {
		t.Fatalf("unexpected row: %+v", rows[3])
	}
}

func TestSideLogSpillsToDiskAndReplays(t *testing.T) {
	ctx := context.Background()
	sl := newSideLog(5)
	defer sl.Close()

	for i := 0; i < 50; i++ {
		if err := sl.Append(ctx, "account", fmt.Sprintf("id-%02d", i), map[string]any{"f": float64(i)}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	rows, err := sl.Replay(ctx, "account")
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(rows) != 50 {
		t.Fatalf("expected all 50 rows back after spill, got %d", len(rows))
	}
	if rows[0].ID != "id-00" || rows[49].ID != "id-49" {
		t.Fatalf("spill lost ordering: first=%s last=%s", rows[0].ID, rows[49].ID)
	}
}

func TestSideLogEntitiesAreIndependent(t *testing.T) {
	ctx := context.Background()
	sl := newSideLog(0)
	defer sl.Close()

	if err := sl.Append(ctx, "a", "1", map[string]any{"x": 1}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	rows, err := sl.Replay(ctx, "b")
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows for entity b, got %d", len(rows))
	}
}
