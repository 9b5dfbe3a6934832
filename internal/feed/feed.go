package feed

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"fencewatch/internal/alert"
	rtsup "fencewatch/internal/runtime/supervisor"
	logx "fencewatch/pkg/logx"
)

const DefaultChannelPrefix = "fencewatch:alerts:"

type Config struct {
	Addr     string
	Password string
	DB       int

	ChannelPrefix string
	OwnerID       string
}

// change is the wire envelope published by the backend for every alert row
// mutation. Only INSERT and UPDATE are notification-relevant.
type change struct {
	Change string       `json:"change"`
	Record alert.Record `json:"record"`
}

// Source subscribes to the live alert change feed for one owner and emits
// normalized events.
//
// Transport problems are logged, never surfaced as alert content: the
// engine stays quiet until the feed reconnects (the Redis client reconnects
// on its own, and the consume loop runs under a restart supervisor).
type Source struct {
	cfg    Config
	log    logx.Logger
	client *redis.Client

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
	pubsub  *redis.PubSub
}

func New(cfg Config, log logx.Logger) (*Source, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("feed addr is empty")
	}
	if strings.TrimSpace(cfg.OwnerID) == "" {
		return nil, errors.New("feed owner_id is empty")
	}
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = DefaultChannelPrefix
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Source{cfg: cfg, log: log, client: client}, nil
}

func (s *Source) channel() string { return s.cfg.ChannelPrefix + s.cfg.OwnerID }

// Start establishes the subscription and begins emitting events to out.
// Subscription establishment is the only awaited boundary; after it, the
// consume loop runs in the background until Stop or ctx cancellation.
func (s *Source) Start(ctx context.Context, out chan<- alert.Event) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		return nil
	}

	ps := s.client.Subscribe(ctx, s.channel())
	// Wait for the subscription confirmation so a misconfigured transport
	// fails Start instead of silently never delivering.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		s.runMu.Unlock()
		return err
	}

	s.running = true
	s.pubsub = ps
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "feed"))),
		// feed failures should not take down the whole app; treat as best-effort.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.runMu.Unlock()

	s.log.Info("feed subscribed", logx.String("channel", s.channel()))

	sup.GoRestart("feed.consume", func(c context.Context) error {
		return s.consume(c, ps, out)
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
	)

	return nil
}

func (s *Source) consume(ctx context.Context, ps *redis.PubSub, out chan<- alert.Event) error {
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				// Channel closes on Stop; during shutdown that's a clean exit.
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errors.New("feed channel closed")
			}
			ev, ok := s.decode(msg.Payload)
			if !ok {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// decode parses one feed payload and applies the adapter-level rules:
// INSERT/UPDATE only, and a defense-in-depth owner check even though the
// subscription is already owner-scoped server-side.
func (s *Source) decode(payload string) (alert.Event, bool) {
	var c change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		s.log.Debug("feed payload malformed; skipping", logx.Err(err))
		return alert.Event{}, false
	}
	switch strings.ToUpper(strings.TrimSpace(c.Change)) {
	case "INSERT", "UPDATE":
	default:
		return alert.Event{}, false
	}
	if c.Record.UserID != s.cfg.OwnerID {
		s.log.Warn("feed record for foreign owner dropped",
			logx.String("record_owner", c.Record.UserID),
			logx.String("alert_id", c.Record.ID),
		)
		return alert.Event{}, false
	}
	return c.Record.Event(), true
}

func (s *Source) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.runMu.Lock()
	sup := s.sup
	ps := s.pubsub
	wasRunning := s.running
	s.running = false
	s.sup = nil
	s.pubsub = nil
	s.runMu.Unlock()

	if !wasRunning {
		return s.client.Close()
	}

	if sup != nil {
		sup.Cancel()
	}
	if ps != nil {
		_ = ps.Close()
	}

	if sup != nil {
		grace := 2 * time.Second
		wctx, cancel := context.WithTimeout(ctx, grace)
		defer cancel()
		if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			s.log.Debug("feed stopped with error", logx.Err(err))
		}
	}

	return s.client.Close()
}
