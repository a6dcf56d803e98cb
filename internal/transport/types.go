// Package transport holds the chat-platform neutral types shared by the
// Telegram adapter, the command router and the notifier.
package transport

import (
	"context"
	"errors"
)

// ErrRecipientUnavailable marks a send that can never succeed for this
// recipient until they act (blocked the bot, deleted the account, left the chat).
var ErrRecipientUnavailable = errors.New("transport: recipient unavailable")

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID       int
	ChatID   int64
	FromID   int64
	Username string
	Text     string
	IsGroup  bool
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

// ChatTarget addresses a private chat or a forum topic.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Silent         bool
}

type BotCommand struct {
	Command     string
	Description string
}

// Sender delivers text. Multi-part sends return the first message's ref.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

type Adapter interface {
	Sender
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// CommandMenuUpdater is implemented by adapters that can publish a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
