package engine

import (
	"context"
	"time"

	"fencewatch/internal/alert"
	"fencewatch/internal/storage"
)

// Suppression reasons, also published on the event bus for observability.
const (
	reasonEmptyID     = "empty_id"
	reasonInactive    = "inactive"
	reasonKind        = "kind_not_notifiable"
	reasonViewing     = "viewing_alerts"
	reasonDedupWindow = "dedup_window"
)

// filter applies the notification admission rules in order, short-circuiting
// on the first rejection. It owns the dedup ledger (alert id -> last accept
// time); the only write it performs is the ledger update on acceptance.
//
// Not safe for concurrent use: it is owned by the engine run loop.
type filter struct {
	kinds  map[alert.Kind]struct{}
	window time.Duration

	ledger     map[string]time.Time
	maxEntries int
	maxAge     time.Duration

	// optional cross-restart dedup
	persist bool
	store   storage.Store
	writes  chan<- dedupWrite
}

type dedupWrite struct {
	key   string
	until time.Time
}

func newFilter(cfg Config, store storage.Store, writes chan<- dedupWrite) *filter {
	kinds := make(map[alert.Kind]struct{}, len(cfg.NotifyKinds))
	for _, k := range cfg.NotifyKinds {
		kinds[k] = struct{}{}
	}
	return &filter{
		kinds:      kinds,
		window:     cfg.DedupWindow,
		ledger:     map[string]time.Time{},
		maxEntries: cfg.LedgerMaxEntries,
		maxAge:     cfg.LedgerMaxAge,
		persist:    cfg.PersistDedup && store != nil,
		store:      store,
		writes:     writes,
	}
}

// allow decides whether the event should notify. On acceptance it updates
// the ledger immediately, so a rapid-fire duplicate arriving before the
// event is actually displayed is still suppressed.
func (f *filter) allow(e alert.Event, viewing bool, now time.Time) (bool, string) {
	if e.ID == "" {
		return false, reasonEmptyID
	}
	if !e.Active {
		return false, reasonInactive
	}
	if _, ok := f.kinds[e.Kind]; !ok {
		return false, reasonKind
	}
	if viewing {
		return false, reasonViewing
	}

	if last, ok := f.ledger[e.ID]; ok && now.Sub(last) < f.window {
		return false, reasonDedupWindow
	}

	// Cross-restart check (best-effort, bounded).
	if f.persist {
		cctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
		until, ok, err := f.store.GetDedup(cctx, e.ID)
		cancel()
		if err == nil && ok && now.Before(until) {
			// Seed memory so subsequent checks stay cheap.
			f.ledger[e.ID] = until.Add(-f.window)
			return false, reasonDedupWindow
		}
	}

	f.ledger[e.ID] = now
	f.enforceCap(now)

	if f.persist && f.writes != nil {
		select {
		case f.writes <- dedupWrite{key: e.ID, until: now.Add(f.window)}:
		default:
		}
	}
	return true, ""
}

// enforceCap evicts the oldest entries when the ledger exceeds its bound.
func (f *filter) enforceCap(now time.Time) {
	if f.maxEntries <= 0 || len(f.ledger) <= f.maxEntries {
		return
	}
	// Drop expired entries first.
	for k, t := range f.ledger {
		if now.Sub(t) >= f.window {
			delete(f.ledger, k)
		}
	}
	for len(f.ledger) > f.maxEntries {
		var (
			minKey string
			minT   time.Time
			set    bool
		)
		for k, t := range f.ledger {
			if !set || t.Before(minT) {
				minKey, minT, set = k, t, true
			}
		}
		if minKey == "" {
			break
		}
		delete(f.ledger, minKey)
	}
}

// sweep evicts ledger entries older than the configured max age. It bounds
// ledger growth for long-running sessions; entries inside the dedup window
// are never touched.
func (f *filter) sweep(now time.Time) int {
	age := f.maxAge
	if age <= 0 {
		return 0
	}
	removed := 0
	for k, t := range f.ledger {
		if now.Sub(t) > age {
			delete(f.ledger, k)
			removed++
		}
	}
	return removed
}

func (f *filter) size() int { return len(f.ledger) }

// setKinds replaces the notifiable kind set (config hot reload).
func (f *filter) setKinds(kinds []alert.Kind) {
	m := make(map[alert.Kind]struct{}, len(kinds))
	for _, k := range kinds {
		m[k] = struct{}{}
	}
	f.kinds = m
}
