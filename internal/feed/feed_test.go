package feed

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fencewatch/internal/alert"
	logx "fencewatch/pkg/logx"
)

func startTestSource(t *testing.T) (*miniredis.Miniredis, *Source, chan alert.Event) {
	t.Helper()
	mr := miniredis.RunT(t)

	src, err := New(Config{
		Addr:    mr.Addr(),
		OwnerID: "owner-1",
	}, logx.Nop())
	require.NoError(t, err)

	out := make(chan alert.Event, 16)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, src.Start(ctx, out))
	t.Cleanup(func() {
		cancel()
		_ = src.Stop(context.Background())
	})
	return mr, src, out
}

func waitEvent(t *testing.T, out <-chan alert.Event) alert.Event {
	t.Helper()
	select {
	case ev := <-out:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for feed event")
		return alert.Event{}
	}
}

func assertNoEvent(t *testing.T, out <-chan alert.Event) {
	t.Helper()
	select {
	case ev := <-out:
		t.Fatalf("unexpected event emitted: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSourceEmitsNormalizedEvent(t *testing.T) {
	mr, _, out := startTestSource(t)

	mr.Publish("fencewatch:alerts:owner-1",
		`{"change":"INSERT","record":{"id":"a-1","user_id":"owner-1","device_id":"collar-9","type_alert":"out_of_zone","active":true,"created_at":"2026-08-25T10:00:00Z","updated_at":"2026-08-25T10:00:00Z"}}`)

	ev := waitEvent(t, out)
	assert.Equal(t, "a-1", ev.ID)
	assert.Equal(t, "owner-1", ev.OwnerID)
	assert.Equal(t, "collar-9", ev.DeviceID)
	assert.Equal(t, alert.KindOutOfRange, ev.Kind, "legacy label must be canonicalized at ingestion")
	assert.True(t, ev.Active)
}

func TestSourceDropsForeignOwner(t *testing.T) {
	mr, _, out := startTestSource(t)

	// Even if the transport fails to scope the channel, records for other
	// owners must not pass the adapter.
	mr.Publish("fencewatch:alerts:owner-1",
		`{"change":"INSERT","record":{"id":"a-2","user_id":"intruder","type_alert":"out","active":true}}`)

	assertNoEvent(t, out)
}

func TestSourceDropsDeletesAndMalformed(t *testing.T) {
	mr, _, out := startTestSource(t)

	mr.Publish("fencewatch:alerts:owner-1",
		`{"change":"DELETE","record":{"id":"a-3","user_id":"owner-1","type_alert":"out","active":true}}`)
	mr.Publish("fencewatch:alerts:owner-1", `{not json`)

	assertNoEvent(t, out)

	// The consume loop must survive bad payloads.
	mr.Publish("fencewatch:alerts:owner-1",
		`{"change":"UPDATE","record":{"id":"a-4","user_id":"owner-1","type_alert":"low_battery","active":true}}`)
	ev := waitEvent(t, out)
	assert.Equal(t, "a-4", ev.ID)
	assert.Equal(t, alert.KindLowBattery, ev.Kind)
}

func TestSourceEmitsUnknownKindForDownstreamFilter(t *testing.T) {
	mr, _, out := startTestSource(t)

	mr.Publish("fencewatch:alerts:owner-1",
		`{"change":"INSERT","record":{"id":"a-5","user_id":"owner-1","type_alert":"heat_stress","active":true}}`)

	ev := waitEvent(t, out)
	// Unrecognized labels become Unknown here and are rejected by the
	// engine filter, not shown with a blank description.
	assert.Equal(t, alert.KindUnknown, ev.Kind)
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()
	_, err := New(Config{OwnerID: "o"}, logx.Nop())
	assert.Error(t, err)
	_, err = New(Config{Addr: "127.0.0.1:6379"}, logx.Nop())
	assert.Error(t, err)
}
