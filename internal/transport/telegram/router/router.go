// Package router turns chat updates into command handler calls on a small
// supervised worker pool.
package router

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pland/internal/runtime/supervisor"
	"pland/internal/transport"
	logx "pland/pkg/logx"
)

const (
	defaultWorkers  = 4
	jobQueueSize    = 256
	defaultTimeout  = 15 * time.Second
	drainTimeout    = 3 * time.Second
	menuSyncTimeout = 5 * time.Second
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	// Timeout overrides the router default when > 0.
	Timeout time.Duration
	Handle  HandlerFunc
}

// Request is one command invocation.
type Request struct {
	Update  transport.Update
	Chat    transport.ChatTarget
	FromID  int64
	Command string
	// Text is everything after the command word, trimmed.
	Text  string
	Args  []string
	ReqID string

	Logger logx.Logger
	Sender transport.Sender
}

// Reply sends plain text back to the chat the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Sender.SendText(ctx, r.Chat, text, &transport.SendOptions{DisablePreview: true})
	return err
}

type Router struct {
	mu       sync.RWMutex
	cmds     map[string]Command
	ordered  []Command
	allowed  map[int64]bool
	fallback HandlerFunc

	log     logx.Logger
	adapter transport.Adapter
	workers int
	jobs    chan func(context.Context)
}

func New(log logx.Logger, adapter transport.Adapter, allowed []int64) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		cmds:    map[string]Command{},
		log:     log.With(logx.String("comp", "telegram.router")),
		adapter: adapter,
		workers: defaultWorkers,
		jobs:    make(chan func(context.Context), jobQueueSize),
	}
	r.SetAllowed(allowed)
	return r
}

// SetAllowed replaces the user allowlist. Empty allows everyone.
func (r *Router) SetAllowed(ids []int64) {
	m := make(map[int64]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	r.mu.Lock()
	r.allowed = m
	r.mu.Unlock()
}

func (r *Router) isAllowed(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.allowed) == 0 || r.allowed[id]
}

// Register replaces the command set. A help command is always added.
func (r *Router) Register(cmds ...Command) {
	cmds = append(cmds, Command{
		Name:        "help",
		Aliases:     []string{"h"},
		Description: "show commands",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, r.helpText(req.Args))
		},
	})

	byName := make(map[string]Command, len(cmds)*2)
	ordered := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := sanitizeCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		byName[name] = c
		ordered = append(ordered, c)
		for _, a := range c.Aliases {
			if a = sanitizeCommand(a); a != "" {
				if _, taken := byName[a]; !taken {
					byName[a] = c
				}
			}
		}
	}

	r.mu.Lock()
	r.cmds = byName
	r.ordered = ordered
	r.mu.Unlock()
}

// SetFallback handles text that is not a command (nil ignores it).
func (r *Router) SetFallback(h HandlerFunc) {
	r.mu.Lock()
	r.fallback = h
	r.mu.Unlock()
}

// SyncMenu publishes the command menu when the adapter supports it.
func (r *Router) SyncMenu(ctx context.Context) error {
	up, ok := r.adapter.(transport.CommandMenuUpdater)
	if !ok {
		return nil
	}
	r.mu.RLock()
	menu := buildMenu(r.ordered)
	r.mu.RUnlock()
	ctx, cancel := context.WithTimeout(ctx, menuSyncTimeout)
	defer cancel()
	return up.UpdateMenuCommands(ctx, menu)
}

// DispatchLoop routes updates until ctx is done or updates is closed, then
// lets queued commands drain briefly.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	sup := supervisor.New(ctx, supervisor.WithLogger(r.log))
	for i := 0; i < r.workers; i++ {
		idx := i
		sup.GoRestart0("command.worker."+strconv.Itoa(idx), func(c context.Context) { r.worker(c, idx) },
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("command dispatcher started", logx.Int("workers", r.workers), logx.Int("queue_cap", cap(r.jobs)))

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		sup.Cancel()
		_ = sup.Wait(wctx)
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) worker(ctx context.Context, idx int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-r.jobs:
			func() {
				defer func() {
					if rec := recover(); rec != nil {
						r.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
					}
				}()
				job(ctx)
			}()
		}
	}
}

func (r *Router) route(ctx context.Context, up transport.Update) {
	switch up.Kind {
	case transport.UpdateMessage:
		r.routeMessage(ctx, up)
	case transport.UpdateCallback:
		// no inline keyboards are sent; just stop the client spinner
		if up.Callback != nil {
			_ = r.adapter.AnswerCallback(ctx, up.Callback.ID, "")
		}
	}
}

func (r *Router) routeMessage(ctx context.Context, up transport.Update) {
	msg := up.Message
	if msg == nil || msg.IsGroup {
		return
	}
	chat := transport.ChatTarget{ChatID: msg.ChatID}
	if !r.isAllowed(msg.FromID) {
		r.log.Debug("message from user not on allowlist", logx.Int64("from_id", msg.FromID))
		return
	}

	word, rest := splitCommand(msg.Text)
	r.mu.RLock()
	cmd, ok := r.cmds[word]
	fallback := r.fallback
	r.mu.RUnlock()

	var h HandlerFunc
	timeout := defaultTimeout
	switch {
	case word == "":
		if fallback == nil {
			return
		}
		h = fallback
		rest = strings.TrimSpace(msg.Text)
	case !ok:
		_, _ = r.adapter.SendText(ctx, chat, "Unknown command. Try /help", nil)
		return
	default:
		h = cmd.Handle
		if cmd.Timeout > 0 {
			timeout = cmd.Timeout
		}
	}

	rid := uuid.NewString()[:8]
	req := &Request{
		Update:  up,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Text:    rest,
		Args:    strings.Fields(rest),
		ReqID:   rid,
		Logger:  r.log.With(logx.String("rid", rid), logx.Int64("from_id", msg.FromID), logx.String("cmd", cmd.Name)),
		Sender:  r.adapter,
	}
	final := Chain(h, MWRequestLog(), MWReplyError(), MWPanicRecover(), MWTimeout(timeout))

	select {
	case r.jobs <- func(c context.Context) { _ = final(c, req) }:
	default:
		_, _ = r.adapter.SendText(ctx, chat, "Busy, try again in a moment.", nil)
	}
}

// splitCommand returns the lowercased command word ("" for plain text) and
// the remaining text. "/add@my_bot x" yields ("add", "x").
func splitCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	word, rest, _ := strings.Cut(text[1:], " ")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	if i := strings.IndexByte(word, '\n'); i >= 0 {
		rest = word[i+1:] + " " + rest
		word = word[:i]
	}
	return strings.ToLower(word), strings.TrimSpace(rest)
}
