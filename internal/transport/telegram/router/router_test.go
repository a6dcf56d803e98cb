package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"pland/internal/transport"
	logx "pland/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type sent struct {
	chat int64
	text string
}

type fakeAdapter struct {
	mu       sync.Mutex
	sent     []sent
	answered []string
	menu     []transport.BotCommand
	notify   chan struct{}
}

func newFakeAdapter() *fakeAdapter { return &fakeAdapter{notify: make(chan struct{}, 16)} }

func (f *fakeAdapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	f.sent = append(f.sent, sent{chat: to.ChatID, text: text})
	f.mu.Unlock()
	f.notify <- struct{}{}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                                 { return nil }

func (f *fakeAdapter) AnswerCallback(ctx context.Context, id, text string) error {
	f.mu.Lock()
	f.answered = append(f.answered, id)
	f.mu.Unlock()
	f.notify <- struct{}{}
	return nil
}

func (f *fakeAdapter) UpdateMenuCommands(ctx context.Context, cmds []transport.BotCommand) error {
	f.mu.Lock()
	f.menu = cmds
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) wait(t *testing.T) {
	t.Helper()
	select {
	case <-f.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for adapter call")
	}
}

func (f *fakeAdapter) last() sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sent{}
	}
	return f.sent[len(f.sent)-1]
}

func msg(from int64, text string) transport.Update {
	return transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{ChatID: from, FromID: from, Text: text}}
}

// run starts DispatchLoop and returns the update channel plus a stop func.
func run(t *testing.T, r *Router) (chan transport.Update, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan transport.Update)
	done := make(chan struct{})
	go func() {
		_ = r.DispatchLoop(ctx, updates)
		close(done)
	}()
	return updates, func() {
		cancel()
		<-done
	}
}

func TestSplitCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, word, rest string
	}{
		{"/add Buy milk; 2026-05-04 18:00", "add", "Buy milk; 2026-05-04 18:00"},
		{"/Done@pland_bot 12", "done", "12"},
		{"/list", "list", ""},
		{"  hello there ", "", "hello there"},
		{"/plan\nTrip; pack @ 2026-05-04 10:00", "plan", "Trip; pack @ 2026-05-04 10:00"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			w, r := splitCommand(tt.in)
			if w != tt.word || r != tt.rest {
				t.Fatalf("splitCommand(%q) = (%q, %q), want (%q, %q)", tt.in, w, r, tt.word, tt.rest)
			}
		})
	}
}

func TestSanitizeCommand(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"Quiet-Hours": "quiet_hours",
		" list ":      "list",
		"__x__":       "x",
		"émoji":       "moji",
		strings.Repeat("a", 40): strings.Repeat("a", 32),
	}
	for in, want := range tests {
		if got := sanitizeCommand(in); got != want {
			t.Fatalf("sanitizeCommand(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDispatchRunsHandler(t *testing.T) {
	fa := newFakeAdapter()
	r := New(logx.Nop(), fa, nil)
	var gotText string
	var gotArgs []string
	r.Register(Command{Name: "add", Aliases: []string{"a"}, Description: "add a task", Handle: func(ctx context.Context, req *Request) error {
		gotText, gotArgs = req.Text, req.Args
		return req.Reply(ctx, "added")
	}})

	updates, stop := run(t, r)
	defer stop()

	updates <- msg(7, "/a Buy milk; 18:00")
	fa.wait(t)
	if got := fa.last(); got.chat != 7 || got.text != "added" {
		t.Fatalf("reply = %+v", got)
	}
	if gotText != "Buy milk; 18:00" {
		t.Fatalf("Text = %q", gotText)
	}
	if diff := cmp.Diff([]string{"Buy", "milk;", "18:00"}, gotArgs); diff != "" {
		t.Fatalf("Args mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatchErrors(t *testing.T) {
	fa := newFakeAdapter()
	r := New(logx.Nop(), fa, nil)
	r.Register(
		Command{Name: "bad", Description: "user error", Handle: func(ctx context.Context, req *Request) error {
			return Userf("Task %d not found.", 9)
		}},
		Command{Name: "boom", Description: "internal error", Handle: func(ctx context.Context, req *Request) error {
			return errors.New("db down")
		}},
		Command{Name: "panic", Description: "panics", Handle: func(ctx context.Context, req *Request) error {
			panic("oops")
		}},
	)
	updates, stop := run(t, r)
	defer stop()

	updates <- msg(1, "/bad")
	fa.wait(t)
	if got := fa.last().text; got != "Task 9 not found." {
		t.Fatalf("user error reply = %q", got)
	}

	updates <- msg(1, "/boom")
	fa.wait(t)
	if got := fa.last().text; !strings.HasPrefix(got, "Something went wrong (ref ") {
		t.Fatalf("internal error reply = %q", got)
	}

	updates <- msg(1, "/panic")
	fa.wait(t)
	if got := fa.last().text; !strings.HasPrefix(got, "Something went wrong") {
		t.Fatalf("panic reply = %q", got)
	}

	updates <- msg(1, "/nope")
	fa.wait(t)
	if got := fa.last().text; got != "Unknown command. Try /help" {
		t.Fatalf("unknown reply = %q", got)
	}
}

func TestAllowlistAndGroups(t *testing.T) {
	fa := newFakeAdapter()
	r := New(logx.Nop(), fa, []int64{1})
	r.Register(Command{Name: "ping", Description: "pong", Handle: func(ctx context.Context, req *Request) error {
		return req.Reply(ctx, "pong")
	}})
	updates, stop := run(t, r)
	defer stop()

	updates <- msg(2, "/ping")
	group := msg(1, "/ping")
	group.Message.IsGroup = true
	updates <- group
	updates <- msg(1, "/ping")
	fa.wait(t)

	fa.mu.Lock()
	n := len(fa.sent)
	fa.mu.Unlock()
	if n != 1 || fa.last().chat != 1 {
		t.Fatalf("sent = %+v, want exactly one reply to user 1", fa.sent)
	}

	r.SetAllowed(nil)
	updates <- msg(2, "/ping")
	fa.wait(t)
	if got := fa.last(); got.chat != 2 {
		t.Fatalf("open allowlist reply = %+v", got)
	}
}

func TestCallbacksAreAcknowledged(t *testing.T) {
	fa := newFakeAdapter()
	r := New(logx.Nop(), fa, nil)
	updates, stop := run(t, r)
	defer stop()

	updates <- transport.Update{Kind: transport.UpdateCallback, Callback: &transport.Callback{ID: "cb1", FromID: 1}}
	fa.wait(t)
	fa.mu.Lock()
	defer fa.mu.Unlock()
	if diff := cmp.Diff([]string{"cb1"}, fa.answered); diff != "" {
		t.Fatalf("answered mismatch (-want +got):\n%s", diff)
	}
}

func TestHelpAndMenu(t *testing.T) {
	t.Parallel()
	fa := newFakeAdapter()
	r := New(logx.Nop(), fa, nil)
	noop := func(ctx context.Context, req *Request) error { return nil }
	r.Register(
		Command{Name: "list", Description: "show active tasks", Handle: noop},
		Command{Name: "add", Description: "add a task", Usage: "/add title; YYYY-MM-DD HH:MM", Aliases: []string{"new"}, Handle: noop},
	)

	all := r.helpText(nil)
	if !strings.Contains(all, "/add - add a task") || !strings.Contains(all, "/help - show commands") {
		t.Fatalf("help text = %q", all)
	}
	if strings.Index(all, "/add") > strings.Index(all, "/list") {
		t.Fatalf("help not sorted: %q", all)
	}
	one := r.helpText([]string{"/new"})
	if !strings.Contains(one, "Usage: /add title; YYYY-MM-DD HH:MM") {
		t.Fatalf("command help = %q", one)
	}

	if err := r.SyncMenu(context.Background()); err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, c := range fa.menu {
		names = append(names, c.Command)
	}
	if diff := cmp.Diff([]string{"add", "help", "list"}, names); diff != "" {
		t.Fatalf("menu mismatch (-want +got):\n%s", diff)
	}
}
