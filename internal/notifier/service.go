package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/jmhodges/clock"
	"golang.org/x/time/rate"

	"pland/internal/eventbus"
	"pland/internal/transport"
	logx "pland/pkg/logx"
)

// Service is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	sender transport.Sender
	log    logx.Logger
	bus    eventbus.Bus
	clock  clock.Clock

	hmu     sync.Mutex
	history []HistoryItem
}

type Option func(*Service)

func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }

func New(cfg Config, sender transport.Sender, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		sender: sender,
		log:    log.With(logx.String("comp", "notifier")),
		bus:    eventbus.OrNop(bus),
		clock:  clock.New(),
	}
	for _, o := range opts {
		o(s)
	}
	s.Apply(cfg)
	return s
}

// Apply swaps the rate limit and timeouts. In-flight sends keep the old values.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
	s.mu.Unlock()
}

// Deliver sends text to the user's private chat once. It returns nil or a
// *DeliveryError. Empty text is not sent.
func (s *Service) Deliver(ctx context.Context, userID int64, text string) error {
	if strings.TrimSpace(text) == "" {
		s.log.Debug("empty message skipped", logx.Int64("user_id", userID))
		return nil
	}
	s.mu.Lock()
	cfg, limiter := s.cfg, s.limiter
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()

	start := s.clock.Now()
	err := limiter.Wait(ctx)
	if err == nil {
		_, err = s.sender.SendText(ctx, transport.ChatTarget{ChatID: userID}, text, &transport.SendOptions{DisablePreview: true})
	}
	took := s.clock.Now().Sub(start)

	item := HistoryItem{At: start, UserID: userID, Chars: len([]rune(text)), Took: took}
	ev := DeliveryEvent{UserID: userID, At: start}
	if err == nil {
		s.record(item, cfg.HistorySize)
		s.log.Debug("reminder delivered", logx.Int64("user_id", userID), logx.Duration("took", took))
		s.bus.Publish(eventbus.Event{Type: eventbus.NotifierSent, Time: start, Data: ev})
		return nil
	}

	de := &DeliveryError{UserID: userID, Class: classify(err), Err: err}
	item.Error = err.Error()
	ev.Class, ev.Error = de.Class.String(), item.Error
	s.record(item, cfg.HistorySize)
	s.log.Warn("delivery failed", logx.Int64("user_id", userID), logx.String("class", de.Class.String()), logx.Duration("took", took), logx.Err(err))
	s.bus.Publish(eventbus.Event{Type: eventbus.NotifierFailed, Time: start, Data: ev})
	return de
}

func classify(err error) Class {
	if errors.Is(err, transport.ErrRecipientUnavailable) {
		return Permanent
	}
	return Transient
}

func (s *Service) record(item HistoryItem, size int) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()
}

// History returns recent deliveries, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	out := make([]HistoryItem, len(s.history))
	copy(out, s.history)
	return out
}
