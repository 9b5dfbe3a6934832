package alert

import (
	"testing"
	"time"
)

func TestRelativeAgeBuckets(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		age  time.Duration
		want string
	}{
		{age: 0, want: "just now"},
		{age: 500 * time.Millisecond, want: "just now"},
		{age: 42 * time.Second, want: "42s ago"},
		{age: 5 * time.Minute, want: "5m ago"},
		{age: 59*time.Minute + 59*time.Second, want: "59m ago"},
		{age: 90 * time.Minute, want: "1h ago"},
		// No days bucket: long-lived alerts stay in hours.
		{age: 30 * time.Hour, want: "30h ago"},
	}
	for _, tt := range tests {
		if got := RelativeAge(now.Add(-tt.age), now); got != tt.want {
			t.Fatalf("RelativeAge(-%v) = %q, want %q", tt.age, got, tt.want)
		}
	}
}

func TestRenderUnknownFallsBack(t *testing.T) {
	t.Parallel()
	r := KindUnknown.Render()
	if r.Title == "" || r.Body == "" {
		t.Fatalf("unknown kind must render a generic message, got %+v", r)
	}
	if r == (KindOutOfRange.Render()) {
		t.Fatal("unknown kind must not reuse the out-of-range copy")
	}
}

func TestRecordNormalizesKindOnce(t *testing.T) {
	t.Parallel()
	created := time.Now().Add(-time.Minute)
	rec := Record{
		ID:        "a-1",
		UserID:    "owner-7",
		DeviceID:  "collar-3",
		TypeAlert: "out_of_zone",
		Active:    true,
		CreatedAt: created,
	}
	ev := rec.Event()
	if ev.Kind != KindOutOfRange {
		t.Fatalf("Kind = %s, want %s", ev.Kind, KindOutOfRange)
	}
	if ev.ID != "a-1" || ev.OwnerID != "owner-7" || ev.DeviceID != "collar-3" || !ev.Active {
		t.Fatalf("unexpected event fields: %+v", ev)
	}
	if !ev.CreatedAt.Equal(created) {
		t.Fatalf("CreatedAt changed during normalization")
	}
}
