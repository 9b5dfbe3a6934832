// Package engine is the notification pipeline: admission filtering,
// FIFO presentation queue, and the display lifecycle (one popup at a
// time, auto-dismiss deadline, click-through and manual dismissal).
//
// All pipeline state (filter ledger, queue, current display) is owned
// by a single run loop goroutine; the exported methods hand work to it
// through channels and never touch state directly.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"fencewatch/internal/alert"
	"fencewatch/internal/eventbus"
	rtsup "fencewatch/internal/runtime/supervisor"
	"fencewatch/internal/storage"
	logx "fencewatch/pkg/logx"
)

var (
	ErrStopped   = errors.New("engine stopped")
	ErrQueueFull = errors.New("engine queue full")
)

const (
	DefaultDedupWindow      = 10 * time.Second
	DefaultAutoDismiss      = 5 * time.Second
	DefaultQueueSize        = 64
	DefaultLedgerMaxEntries = 2000
)

// DismissReason records why a popup left the screen.
type DismissReason string

const (
	ReasonTimeout  DismissReason = "timeout"
	ReasonUser     DismissReason = "user"
	ReasonActivate DismissReason = "activate"
	ReasonShutdown DismissReason = "shutdown"
)

type Config struct {
	NotifyKinds []alert.Kind
	DedupWindow time.Duration
	AutoDismiss time.Duration
	QueueSize   int

	LedgerMaxEntries int
	LedgerMaxAge     time.Duration

	PersistDedup bool
}

func (c *Config) applyDefaults() {
	if len(c.NotifyKinds) == 0 {
		c.NotifyKinds = []alert.Kind{alert.KindOutOfRange}
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = DefaultDedupWindow
	}
	if c.AutoDismiss <= 0 {
		c.AutoDismiss = DefaultAutoDismiss
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.LedgerMaxEntries <= 0 {
		c.LedgerMaxEntries = DefaultLedgerMaxEntries
	}
	if c.LedgerMaxAge <= 0 {
		c.LedgerMaxAge = 6 * c.DedupWindow
	}
}

// Display is the popup currently on screen.
type Display struct {
	Event   alert.Event
	ShownAt time.Time
}

// Surface renders notifications to the user. Implementations must
// tolerate Clear for a display they already lost (message deleted by
// the user out of band).
type Surface interface {
	Show(ctx context.Context, d Display) error
	Clear(ctx context.Context, d Display, reason DismissReason) error
	FocusAlerts(ctx context.Context) error
}

// Status is a point-in-time snapshot for /status and tests.
type Status struct {
	Running   bool
	Showing   bool
	CurrentID string
	QueueLen  int
	LedgerLen int
	Viewing   bool

	Accepted   uint64
	Suppressed uint64
	Shown      uint64
	Dismissed  uint64
}

// PipelineEvent is the bus payload for alert.* events.
type PipelineEvent struct {
	AlertID  string `json:"alert_id"`
	DeviceID string `json:"device_id,omitempty"`
	Kind     string `json:"kind"`
	Reason   string `json:"reason,omitempty"`
}

type actionKind int

const (
	actDismiss actionKind = iota
	actActivate
	actViewing
	actSweep
	actSetKinds
	actApply
)

type action struct {
	kind    actionKind
	id      string
	viewing bool
	kinds   []alert.Kind
	cfg     *Config
}

type Service struct {
	cfg     Config
	surface Surface
	log     logx.Logger
	bus     eventbus.Bus
	store   storage.Store

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	events chan alert.Event
	acts   chan action
	writes chan dedupWrite

	snapMu sync.Mutex
	snap   Status

	// loop-owned state
	filter  *filter
	queue   fifo
	current *Display
	viewing bool

	accepted   uint64
	suppressed uint64
	shown      uint64
	dismissed  uint64
}

func New(cfg Config, surface Surface, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	cfg.applyDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:     cfg,
		surface: surface,
		log:     log,
		bus:     bus,
		store:   store,
		events:  make(chan alert.Event, cfg.QueueSize),
		acts:    make(chan action, 32),
		writes:  make(chan dedupWrite, 128),
	}
	s.filter = newFilter(cfg, store, s.writes)
	return s
}

func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "engine"))),
	)
	s.sup.Go0("engine.loop", s.run)
	if s.cfg.PersistDedup && s.store != nil {
		s.sup.Go0("engine.dedup-writer", s.dedupWriter)
	}
	s.setSnapRunning(true)
	s.log.Info("engine started",
		logx.Duration("dedup_window", s.cfg.DedupWindow),
		logx.Duration("auto_dismiss", s.cfg.AutoDismiss),
		logx.Int("queue_size", s.cfg.QueueSize),
	)
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.runMu.Lock()
	sup := s.sup
	wasRunning := s.running
	s.running = false
	s.sup = nil
	s.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	s.setSnapRunning(false)

	sup.Cancel()
	wctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Offer submits one feed event to the pipeline. It never blocks: when
// the intake buffer is full the event is rejected with ErrQueueFull and
// the caller decides whether that matters.
func (s *Service) Offer(ctx context.Context, e alert.Event) error {
	s.runMu.Lock()
	running := s.running
	s.runMu.Unlock()
	if !running {
		return ErrStopped
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case s.events <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dismiss closes the current popup if (and only if) it still shows the
// given alert. Stale dismissals are no-ops.
func (s *Service) Dismiss(id string) { s.submit(action{kind: actDismiss, id: id}) }

// Activate handles popup click-through: open the alerts view, then
// close the popup and advance to the next queued alert.
func (s *Service) Activate(id string) { s.submit(action{kind: actActivate, id: id}) }

// SetViewing marks the alerts view open or closed. While open, incoming
// events are suppressed at the filter.
func (s *Service) SetViewing(open bool) { s.submit(action{kind: actViewing, viewing: open}) }

// SweepLedger evicts aged dedup entries. Wired to the cron schedule.
func (s *Service) SweepLedger() { s.submit(action{kind: actSweep}) }

// SetNotifyKinds replaces the notifiable kind set (config hot reload).
func (s *Service) SetNotifyKinds(kinds []alert.Kind) {
	s.submit(action{kind: actSetKinds, kinds: kinds})
}

// Apply updates timing and ledger bounds live. Intake queue size and
// dedup persistence are fixed at construction. A display already on
// screen keeps its original deadline; the new auto-dismiss applies from
// the next popup on.
func (s *Service) Apply(cfg Config) {
	cfg.applyDefaults()
	s.submit(action{kind: actApply, cfg: &cfg})
}

func (s *Service) submit(a action) {
	s.runMu.Lock()
	running := s.running
	s.runMu.Unlock()
	if !running {
		return
	}
	select {
	case s.acts <- a:
	default:
		s.log.Warn("engine action dropped", logx.Int("kind", int(a.kind)))
	}
}

func (s *Service) Snapshot() Status {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	return s.snap
}

// run is the single goroutine that owns all pipeline state.
func (s *Service) run(ctx context.Context) {
	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	stopTimer := func() {
		if timer == nil {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer, timerC = nil, nil
	}
	armTimer := func() {
		stopTimer()
		timer = time.NewTimer(s.cfg.AutoDismiss)
		timerC = timer.C
	}
	defer stopTimer()

	for {
		select {
		case <-ctx.Done():
			s.teardown()
			return

		case e := <-s.events:
			s.handleEvent(ctx, e)
			if s.current == nil && s.advance(ctx) {
				armTimer()
			}

		case a := <-s.acts:
			switch a.kind {
			case actDismiss:
				if s.closeCurrent(ctx, a.id, ReasonUser) {
					stopTimer()
					if s.advance(ctx) {
						armTimer()
					}
				}
			case actActivate:
				if s.current != nil && s.current.Event.ID == a.id {
					if s.surface != nil {
						if err := s.surface.FocusAlerts(ctx); err != nil {
							s.log.Warn("focus alerts failed", logx.Err(err))
						}
					}
					s.viewing = true
					if s.closeCurrent(ctx, a.id, ReasonActivate) {
						stopTimer()
						// Advance exactly once: queued alerts still display
						// while the alerts view is open; only new arrivals
						// are suppressed.
						if s.advance(ctx) {
							armTimer()
						}
					}
				}
			case actViewing:
				if s.viewing != a.viewing {
					s.viewing = a.viewing
					s.log.Debug("alerts view toggled", logx.Bool("open", a.viewing))
				}
			case actSweep:
				removed := s.filter.sweep(time.Now())
				if removed > 0 {
					s.log.Debug("dedup ledger swept", logx.Int("removed", removed))
				}
			case actSetKinds:
				s.filter.setKinds(a.kinds)
				s.log.Info("notify kinds updated", logx.Int("count", len(a.kinds)))
			case actApply:
				s.cfg.AutoDismiss = a.cfg.AutoDismiss
				s.filter.window = a.cfg.DedupWindow
				s.filter.maxEntries = a.cfg.LedgerMaxEntries
				s.filter.maxAge = a.cfg.LedgerMaxAge
				s.filter.setKinds(a.cfg.NotifyKinds)
				s.log.Info("engine config applied",
					logx.Duration("dedup_window", a.cfg.DedupWindow),
					logx.Duration("auto_dismiss", a.cfg.AutoDismiss),
				)
			}
			s.publishSnap()

		case <-timerC:
			timerC = nil
			if s.current != nil {
				s.closeCurrent(ctx, s.current.Event.ID, ReasonTimeout)
				if s.advance(ctx) {
					armTimer()
				}
			}
			s.publishSnap()
		}
	}
}

func (s *Service) handleEvent(ctx context.Context, e alert.Event) {
	now := time.Now()
	ok, reason := s.filter.allow(e, s.viewing, now)
	if !ok {
		s.suppressed++
		s.log.Debug("alert suppressed",
			logx.String("alert_id", e.ID),
			logx.String("kind", string(e.Kind)),
			logx.String("reason", reason),
		)
		s.publish(eventbus.TypeAlertSuppressed, e, reason)
		s.publishSnap()
		return
	}
	s.accepted++
	s.queue.push(e)
	s.log.Info("alert accepted",
		logx.String("alert_id", e.ID),
		logx.String("device_id", e.DeviceID),
		logx.String("kind", string(e.Kind)),
		logx.Int("queue_len", s.queue.len()),
	)
	s.publish(eventbus.TypeAlertAccepted, e, "")
	s.publishSnap()
}

// advance pulls the next queued alert onto the screen. Returns true when
// a new display is up and the auto-dismiss timer must be armed.
func (s *Service) advance(ctx context.Context) bool {
	for {
		e, ok := s.queue.pop()
		if !ok {
			return false
		}
		d := Display{Event: e, ShownAt: time.Now()}
		if s.surface != nil {
			if err := s.surface.Show(ctx, d); err != nil {
				// Show failures drop the alert rather than stall the queue.
				s.log.Warn("surface show failed; alert dropped",
					logx.String("alert_id", e.ID), logx.Err(err))
				continue
			}
		}
		s.current = &d
		s.shown++
		s.journal(e, "shown", "")
		s.publish(eventbus.TypeAlertShown, e, "")
		s.publishSnap()
		return true
	}
}

// closeCurrent removes the popup for id. Returns false when the popup
// is already gone or shows a different alert (dismissal is idempotent
// and keyed by alert id).
func (s *Service) closeCurrent(ctx context.Context, id string, reason DismissReason) bool {
	if s.current == nil || s.current.Event.ID != id {
		return false
	}
	d := *s.current
	s.current = nil
	if s.surface != nil {
		if err := s.surface.Clear(ctx, d, reason); err != nil {
			s.log.Debug("surface clear failed", logx.String("alert_id", id), logx.Err(err))
		}
	}
	s.dismissed++
	s.journal(d.Event, "dismissed", string(reason))
	s.publish(eventbus.TypeAlertDismissed, d.Event, string(reason))
	s.log.Info("alert dismissed",
		logx.String("alert_id", id),
		logx.String("reason", string(reason)),
		logx.Duration("on_screen", time.Since(d.ShownAt)),
	)
	return true
}

// teardown clears transient display state on shutdown. The dedup ledger
// survives via storage when persist_dedup is on.
func (s *Service) teardown() {
	if s.current != nil {
		d := *s.current
		s.current = nil
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if s.surface != nil {
			_ = s.surface.Clear(cctx, d, ReasonShutdown)
		}
		cancel()
		s.journal(d.Event, "dismissed", string(ReasonShutdown))
	}
	s.queue.clear()
	s.publishSnap()
	s.log.Info("engine loop stopped")
}

// dedupWriter persists ledger acceptances without blocking the run loop.
func (s *Service) dedupWriter(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case w := <-s.writes:
			cctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
			if err := s.store.PutDedup(cctx, w.key, w.until); err != nil {
				s.log.Debug("dedup persist failed", logx.String("key", w.key), logx.Err(err))
			}
			cancel()
		}
	}
}

func (s *Service) journal(e alert.Event, action, reason string) {
	if s.store == nil {
		return
	}
	cctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	err := s.store.AppendHistory(cctx, storage.HistoryEntry{
		AlertID:  e.ID,
		DeviceID: e.DeviceID,
		Kind:     string(e.Kind),
		Action:   action,
		Reason:   reason,
	})
	if err != nil {
		s.log.Debug("journal write failed", logx.String("alert_id", e.ID), logx.Err(err))
	}
}

func (s *Service) publish(typ string, e alert.Event, reason string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: PipelineEvent{
		AlertID:  e.ID,
		DeviceID: e.DeviceID,
		Kind:     string(e.Kind),
		Reason:   reason,
	}})
}

func (s *Service) publishSnap() {
	st := Status{
		Running:    true,
		Showing:    s.current != nil,
		QueueLen:   s.queue.len(),
		LedgerLen:  s.filter.size(),
		Viewing:    s.viewing,
		Accepted:   s.accepted,
		Suppressed: s.suppressed,
		Shown:      s.shown,
		Dismissed:  s.dismissed,
	}
	if s.current != nil {
		st.CurrentID = s.current.Event.ID
	}
	s.snapMu.Lock()
	running := s.snap.Running
	s.snap = st
	s.snap.Running = running
	s.snapMu.Unlock()
}

func (s *Service) setSnapRunning(v bool) {
	s.snapMu.Lock()
	s.snap.Running = v
	s.snapMu.Unlock()
}
