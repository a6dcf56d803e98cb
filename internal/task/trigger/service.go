package trigger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmhodges/clock"
	"github.com/robfig/cron/v3"

	logx "pland/pkg/logx"
)

// Config controls the trigger service.
type Config struct {
	Timezone string // IANA TZ for recurring schedules, e.g. "Europe/Berlin"
}

// Handle cancels one armed one-shot timer.
type Handle interface {
	// Stop disarms the timer. It reports whether the callback was prevented
	// from running.
	Stop() bool
}

type scheduleDef struct {
	name    string
	spec    string
	every   time.Duration // >0 for interval schedules
	fn      func()
	entryID cron.EntryID
}

type Service struct {
	mu sync.Mutex

	cfg   Config
	log   logx.Logger
	clock clock.Clock
	loc   *time.Location

	c    *cron.Cron
	defs []scheduleDef

	// one-shot timers: tag -> seq -> timer
	tmu     sync.Mutex
	timers  map[string]map[uint64]*time.Timer
	seq     uint64
	stopped bool
}

func New(cfg Config, clk clock.Clock, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clk == nil {
		clk = clock.New()
	}
	s := &Service{
		cfg:    cfg,
		log:    log,
		clock:  clk,
		timers: map[string]map[uint64]*time.Timer{},
	}
	s.loc = s.loadLocation(cfg.Timezone)
	return s
}

// Start begins firing recurring schedules. One-shot timers run as soon as
// they are armed and do not need Start.
func (s *Service) Start(ctx context.Context) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.startLocked()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) startLocked() {
	s.c = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cronLogger{log: s.log}),
		cron.WithChain(cron.Recover(cronLogger{log: s.log})),
	)
	for i := range s.defs {
		if err := s.addCronLocked(&s.defs[i]); err != nil {
			s.log.Error("schedule register failed", logx.String("name", s.defs[i].name), logx.Err(err))
		}
	}
	s.c.Start()
}

// Stop halts recurring schedules and disarms every one-shot timer. Timers
// armed after Stop never fire.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	s.tmu.Lock()
	n := 0
	for _, byTag := range s.timers {
		for _, t := range byTag {
			t.Stop()
			n++
		}
	}
	s.timers = map[string]map[uint64]*time.Timer{}
	s.stopped = true
	s.tmu.Unlock()

	s.log.Info("service stopped", logx.Int("timers_disarmed", n), logx.Duration("took", time.Since(start)))
}

// Apply swaps the timezone of recurring schedules, restarting cron if needed.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if old == strings.TrimSpace(cfg.Timezone) {
		return
	}
	s.loc = s.loadLocation(cfg.Timezone)
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.startLocked()
	s.log.Info("service restarted", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Location is the default location for calendar schedules.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// ---- one-shot timers ----

type timerHandle struct {
	s   *Service
	tag string
	seq uint64
}

func (h timerHandle) Stop() bool {
	s := h.s
	s.tmu.Lock()
	defer s.tmu.Unlock()
	byTag := s.timers[h.tag]
	t, ok := byTag[h.seq]
	if !ok {
		return false
	}
	t.Stop()
	delete(byTag, h.seq)
	if len(byTag) == 0 {
		delete(s.timers, h.tag)
	}
	return true
}

type noopHandle struct{}

func (noopHandle) Stop() bool { return false }

// At runs fn once at the given instant (immediately if it is already past).
// Several timers may share a tag; Live reports how many are armed.
func (s *Service) At(tag string, at time.Time, fn func()) Handle {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	if s.stopped {
		s.log.Debug("timer ignored after stop", logx.String("tag", tag))
		return noopHandle{}
	}

	s.seq++
	seq := s.seq
	delay := max(at.Sub(s.clock.Now()), 0)
	t := time.AfterFunc(delay, func() {
		s.tmu.Lock()
		byTag := s.timers[tag]
		if _, ok := byTag[seq]; !ok {
			// disarmed while this callback was being scheduled
			s.tmu.Unlock()
			return
		}
		delete(byTag, seq)
		if len(byTag) == 0 {
			delete(s.timers, tag)
		}
		s.tmu.Unlock()
		fn()
	})
	if s.timers[tag] == nil {
		s.timers[tag] = map[uint64]*time.Timer{}
	}
	s.timers[tag][seq] = t
	return timerHandle{s: s, tag: tag, seq: seq}
}

// Live reports the number of armed, not yet fired timers for tag.
func (s *Service) Live(tag string) int {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	return len(s.timers[tag])
}

// Armed reports the total number of armed one-shot timers.
func (s *Service) Armed() int {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	n := 0
	for _, byTag := range s.timers {
		n += len(byTag)
	}
	return n
}

// ---- recurring schedules ----

// AddCron registers fn under name with a cron spec (in the service timezone).
// Registering an existing name replaces it.
func (s *Service) AddCron(name, spec string, fn func()) error {
	if _, err := parser.Parse(strings.TrimSpace(spec)); err != nil {
		return fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return s.add(scheduleDef{name: name, spec: strings.TrimSpace(spec), fn: fn})
}

// AddInterval registers fn under name to run every interval. The first run is
// delayed by a random spread.
func (s *Service) AddInterval(name string, every time.Duration, fn func()) error {
	if every <= 0 {
		return fmt.Errorf("interval for %q must be positive", name)
	}
	return s.add(scheduleDef{name: name, spec: "@every " + every.String(), every: every, fn: fn})
}

func (s *Service) add(d scheduleDef) error {
	if strings.TrimSpace(d.name) == "" {
		return errors.New("name required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(d.name)
	s.defs = append(s.defs, d)
	if s.c == nil {
		return nil
	}
	def := &s.defs[len(s.defs)-1]
	if err := s.addCronLocked(def); err != nil {
		return err
	}
	s.log.Debug("schedule registered", logx.String("name", d.name), logx.String("spec", d.spec), logx.Time("next", s.c.Entry(def.entryID).Next))
	return nil
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	job := cron.FuncJob(d.fn)
	if d.every > 0 {
		sched, jitter := spreadInterval(d.every, s.clock.Now().In(s.loc))
		d.entryID = s.c.Schedule(sched, job)
		s.log.Debug("interval spread", logx.String("name", d.name), logx.Duration("jitter", jitter))
		return nil
	}
	id, err := s.c.AddJob(d.spec, job)
	if err != nil {
		return err
	}
	d.entryID = id
	return nil
}

// Remove unregisters a recurring schedule. It reports whether one existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

func (s *Service) removeLocked(name string) bool {
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

// ScheduleInfo describes a registered recurring schedule.
type ScheduleInfo struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

func (s *Service) Schedules() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		info := ScheduleInfo{Name: d.name, Spec: d.spec}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		out = append(out, info)
	}
	return out
}

func (s *Service) loadLocation(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
