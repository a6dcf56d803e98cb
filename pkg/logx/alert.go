package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	alertMaxLen     = 3500
	alertQueueSize  = 256
	alertSendBudget = 10 * time.Second

	// identical alerts inside this window are counted, not re-sent
	alertDedupWindow = time.Minute
)

type alertSink struct {
	mu       sync.Mutex
	sender   AlertSender
	chatID   int64
	minLevel zerolog.Level
	limiter  *rate.Limiter
	lastKey  string
	lastAt   time.Time
	repeats  int

	queue   chan string
	once    sync.Once
	cancel  context.CancelFunc
	stopped chan struct{}
}

func newAlertSink(sender AlertSender) *alertSink {
	return &alertSink{sender: sender, queue: make(chan string, alertQueueSize)}
}

func (a *alertSink) setSender(sender AlertSender) {
	a.mu.Lock()
	a.sender = sender
	a.mu.Unlock()
}

func (a *alertSink) configure(cfg AlertConfig) {
	rps := max(1, cfg.RatePerSec)
	a.mu.Lock()
	a.chatID = cfg.ChatID
	a.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	a.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	a.mu.Unlock()

	if cfg.Enabled {
		a.once.Do(func() {
			ctx, cancel := context.WithCancel(context.Background())
			stopped := make(chan struct{})
			a.mu.Lock()
			a.cancel, a.stopped = cancel, stopped
			a.mu.Unlock()
			go a.run(ctx, stopped)
		})
	}
}

func (a *alertSink) stop() {
	a.mu.Lock()
	cancel, stopped := a.cancel, a.stopped
	a.cancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
		<-stopped
	}
}

func (a *alertSink) run(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-a.queue:
			a.mu.Lock()
			sender, chatID := a.sender, a.chatID
			a.mu.Unlock()
			if sender == nil || chatID == 0 {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, alertSendBudget)
			_ = sender.SendAlert(sctx, chatID, text)
			cancel()
		}
	}
}

func (a *alertSink) Write(p []byte) (int, error) { return a.WriteLevel(zerolog.NoLevel, p) }

// WriteLevel never blocks the logging call: alerts over the rate limit or a
// full queue are dropped.
func (a *alertSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	a.mu.Lock()
	if a.chatID == 0 || level < a.minLevel || level == zerolog.NoLevel {
		a.mu.Unlock()
		return len(p), nil
	}
	text, key := formatAlert(p)
	now := time.Now()
	if key == a.lastKey && now.Sub(a.lastAt) < alertDedupWindow {
		a.repeats++
		a.mu.Unlock()
		return len(p), nil
	}
	if a.repeats > 0 {
		text += fmt.Sprintf("\n(previous alert repeated %d more times)", a.repeats)
	}
	a.lastKey, a.lastAt, a.repeats = key, now, 0
	allowed := a.limiter.Allow()
	a.mu.Unlock()

	if allowed {
		select {
		case a.queue <- text:
		default:
		}
	}
	return len(p), nil
}

// formatAlert turns one JSON log line into chat text:
//
//	⚠️ WARN [notifier] delivery failed
//	user_id: 42
//
// key identifies the alert for repeat detection (level, comp and message).
func formatAlert(p []byte) (text, key string) {
	line := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		return clip(line, alertMaxLen), line
	}
	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)
	comp, _ := m["comp"].(string)

	var b strings.Builder
	b.WriteString(levelIcon(lvl))
	b.WriteString(strings.ToUpper(lvl))
	if comp != "" {
		b.WriteString(" [" + comp + "]")
	}
	b.WriteString(" " + msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message", "comp", zerolog.CallerFieldName:
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		limit := 600
		if k == "stack" {
			limit = 900
		}
		fmt.Fprintf(&b, "\n%s: %s", k, clip(fmt.Sprint(m[k]), limit))
	}
	return clip(b.String(), alertMaxLen), lvl + "|" + comp + "|" + msg
}

func levelIcon(lvl string) string {
	switch lvl {
	case "error", "fatal", "panic":
		return "🛑 "
	case "warn":
		return "⚠️ "
	}
	return ""
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
