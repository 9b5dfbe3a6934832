// Package telegram renders alert popups and the alerts view in the
// owner's Telegram chat, and routes button presses and commands back
// into the notification engine.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"fencewatch/internal/engine"
	rtsup "fencewatch/internal/runtime/supervisor"
	"fencewatch/internal/storage"
	kit "fencewatch/internal/transport"
	logx "fencewatch/pkg/logx"
)

// Callback verbs carried in inline button data ("<verb>|<alert id>").
const (
	cbOpen    = "al:open"
	cbDismiss = "al:dismiss"
	cbClose   = "al:close"
)

type Config struct {
	ChatID     int64
	ThreadID   int
	RatePerSec int
}

// Transport is the outbound slice of the surface transport.
type Transport interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error
	DeleteMessage(ctx context.Context, ref kit.MessageRef) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// Controller is the engine slice the surface drives.
type Controller interface {
	Dismiss(id string)
	Activate(id string)
	SetViewing(open bool)
	Snapshot() engine.Status
}

type Surface struct {
	cfg     Config
	log     logx.Logger
	tr      Transport
	store   storage.Store
	limiter *rate.Limiter

	ctrlMu sync.Mutex
	ctrl   Controller

	mu        sync.Mutex
	popups    map[string]kit.MessageRef
	listRef   *kit.MessageRef
	startedAt time.Time

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
}

func New(cfg Config, tr Transport, store storage.Store, log logx.Logger) (*Surface, error) {
	if cfg.ChatID == 0 {
		return nil, errors.New("surface chat_id is empty")
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 5
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Surface{
		cfg:     cfg,
		log:     log,
		tr:      tr,
		store:   store,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		popups:  map[string]kit.MessageRef{},
	}, nil
}

// Bind attaches the engine after construction (the engine needs the
// surface first).
func (s *Surface) Bind(ctrl Controller) {
	s.ctrlMu.Lock()
	s.ctrl = ctrl
	s.ctrlMu.Unlock()
}

func (s *Surface) controller() Controller {
	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()
	return s.ctrl
}

// Start begins consuming inbound transport updates.
func (s *Surface) Start(ctx context.Context, updates <-chan kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "surface"))),
		rtsup.WithCancelOnError(false),
	)
	s.sup.Go0("surface.dispatch", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case up, ok := <-updates:
				if !ok {
					return
				}
				s.dispatch(c, up)
			}
		}
	})
	return nil
}

func (s *Surface) Stop(ctx context.Context) error {
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
	sup.Cancel()
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func (s *Surface) target() kit.ChatTarget {
	return kit.ChatTarget{ChatID: s.cfg.ChatID, ThreadID: s.cfg.ThreadID}
}

func (s *Surface) ownChat(chatID int64) bool { return chatID == s.cfg.ChatID }

func (s *Surface) dispatch(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message == nil || !s.ownChat(up.Message.ChatID) {
			return
		}
		s.handleCommand(ctx, up.Message)
	case kit.UpdateCallback:
		if up.Callback == nil || !s.ownChat(up.Callback.ChatID) {
			return
		}
		s.handleCallback(ctx, up.Callback)
	}
}

func (s *Surface) handleCommand(ctx context.Context, m *kit.Message) {
	cmd := strings.ToLower(strings.TrimSpace(m.Text))
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	switch cmd {
	case "/alerts":
		if ctrl := s.controller(); ctrl != nil {
			ctrl.SetViewing(true)
		}
		if err := s.FocusAlerts(ctx); err != nil {
			s.log.Warn("alerts view failed", logx.Err(err))
		}
	case "/status":
		s.sendStatus(ctx)
	}
}

func (s *Surface) handleCallback(ctx context.Context, cb *kit.Callback) {
	verb, id, _ := strings.Cut(cb.Data, "|")
	ctrl := s.controller()
	switch verb {
	case cbOpen:
		_ = s.tr.AnswerCallback(ctx, cb.ID, "")
		if ctrl != nil {
			ctrl.Activate(id)
		}
	case cbDismiss:
		_ = s.tr.AnswerCallback(ctx, cb.ID, "Dismissed")
		if ctrl != nil {
			ctrl.Dismiss(id)
		}
	case cbClose:
		_ = s.tr.AnswerCallback(ctx, cb.ID, "")
		s.closeList(ctx)
		if ctrl != nil {
			ctrl.SetViewing(false)
		}
	default:
		_ = s.tr.AnswerCallback(ctx, cb.ID, "")
	}
}

// Show renders the popup with its action buttons. Implements engine.Surface.
func (s *Surface) Show(ctx context.Context, d engine.Display) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	markup := &tele.ReplyMarkup{InlineKeyboard: [][]tele.InlineButton{{
		{Text: "Open alerts", Data: cbOpen + "|" + d.Event.ID},
		{Text: "Dismiss", Data: cbDismiss + "|" + d.Event.ID},
	}}}
	ref, err := s.tr.SendText(ctx, s.target(), renderPopup(d.Event, time.Now()), &kit.SendOptions{
		ParseMode:          "HTML",
		DisablePreview:     true,
		ReplyMarkupAdapter: markup,
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.popups[d.Event.ID] = ref
	s.mu.Unlock()
	return nil
}

// Clear removes the popup message. Losing the message out of band (user
// deleted it) is not an error.
func (s *Surface) Clear(ctx context.Context, d engine.Display, reason engine.DismissReason) error {
	s.mu.Lock()
	ref, ok := s.popups[d.Event.ID]
	delete(s.popups, d.Event.ID)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if err := s.tr.DeleteMessage(ctx, ref); err != nil {
		s.log.Debug("popup delete failed",
			logx.String("alert_id", d.Event.ID),
			logx.String("reason", string(reason)),
			logx.Err(err),
		)
	}
	return nil
}

// FocusAlerts opens (or refreshes) the alerts view. Implements engine.Surface.
func (s *Surface) FocusAlerts(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	text := s.renderList(ctx, time.Now())
	markup := &tele.ReplyMarkup{InlineKeyboard: [][]tele.InlineButton{{
		{Text: "Close", Data: cbClose},
	}}}
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, ReplyMarkupAdapter: markup}

	s.mu.Lock()
	existing := s.listRef
	s.mu.Unlock()
	if existing != nil {
		if err := s.tr.EditText(ctx, *existing, text, opt); err == nil {
			return nil
		}
		// Edit can fail when the old view was deleted; fall through to a
		// fresh send.
	}
	ref, err := s.tr.SendText(ctx, s.target(), text, opt)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listRef = &ref
	s.mu.Unlock()
	return nil
}

func (s *Surface) closeList(ctx context.Context) {
	s.mu.Lock()
	ref := s.listRef
	s.listRef = nil
	s.mu.Unlock()
	if ref == nil {
		return
	}
	if err := s.tr.DeleteMessage(ctx, *ref); err != nil {
		s.log.Debug("alerts view delete failed", logx.Err(err))
	}
}

func (s *Surface) sendStatus(ctx context.Context) {
	if err := s.limiter.Wait(ctx); err != nil {
		return
	}
	var st engine.Status
	if ctrl := s.controller(); ctrl != nil {
		st = ctrl.Snapshot()
	}
	s.mu.Lock()
	up := time.Since(s.startedAt)
	s.mu.Unlock()
	if _, err := s.tr.SendText(ctx, s.target(), renderStatus(st, up), &kit.SendOptions{ParseMode: "HTML"}); err != nil {
		s.log.Warn("status send failed", logx.Err(err))
	}
}
