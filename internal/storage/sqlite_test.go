package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "fencewatch/pkg/logx"
)

func openTestStore(t *testing.T, maxRows int) Store {
	t.Helper()
	st, err := Open(Config{
		Driver:         "sqlite",
		Path:           filepath.Join(t.TempDir(), "journal.db"),
		HistoryMaxRows: maxRows,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("disabled storage should return (nil, nil), got (%v, %v)", st, err)
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestHistoryRoundTripAndPrune(t *testing.T) {
	t.Parallel()
	st := openTestStore(t, 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := st.AppendHistory(ctx, HistoryEntry{
			AlertID:  "a-" + string(rune('0'+i)),
			DeviceID: "collar-1",
			Kind:     "out_of_range",
			Action:   "shown",
		})
		if err != nil {
			t.Fatalf("AppendHistory: %v", err)
		}
	}

	recent, err := st.RecentHistory(ctx, 2)
	if err != nil {
		t.Fatalf("RecentHistory: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(recent))
	}
	if recent[0].AlertID != "a-4" {
		t.Fatalf("expected newest first, got %q", recent[0].AlertID)
	}

	removed, err := st.PruneHistory(ctx)
	if err != nil {
		t.Fatalf("PruneHistory: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 pruned rows, got %d", removed)
	}
}

func TestDedupRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t, 0)
	ctx := context.Background()

	if _, ok, err := st.GetDedup(ctx, "a-1"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	until := time.Now().Add(10 * time.Second)
	if err := st.PutDedup(ctx, "a-1", until); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}
	got, ok, err := st.GetDedup(ctx, "a-1")
	if err != nil || !ok {
		t.Fatalf("GetDedup: ok=%v err=%v", ok, err)
	}
	// Stored at millisecond precision.
	if got.UnixMilli() != until.UnixMilli() {
		t.Fatalf("until = %v, want %v", got, until)
	}

	// Upsert moves the window.
	later := until.Add(5 * time.Second)
	if err := st.PutDedup(ctx, "a-1", later); err != nil {
		t.Fatalf("PutDedup (update): %v", err)
	}
	got, _, _ = st.GetDedup(ctx, "a-1")
	if got.UnixMilli() != later.UnixMilli() {
		t.Fatalf("until after upsert = %v, want %v", got, later)
	}
}
