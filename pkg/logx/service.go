package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Alerts  AlertConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// AlertConfig forwards lines at MinLevel (default warn) and above to an
// operator chat, at most RatePerSec per second.
type AlertConfig struct {
	Enabled    bool
	ChatID     int64
	MinLevel   string
	RatePerSec int
}

// AlertSender delivers one alert to an operator chat.
type AlertSender interface {
	SendAlert(ctx context.Context, chatID int64, text string) error
}

// Service owns the sinks behind every Logger it hands out and can swap them
// at runtime.
type Service struct {
	mu   sync.Mutex
	file *os.File

	root   atomic.Pointer[zerolog.Logger]
	alerts *alertSink
}

// New applies cfg and returns the service with its root Logger. sender may
// be nil and set later with SetAlertSender.
func New(cfg Config, sender AlertSender) (*Service, Logger) {
	s := &Service{alerts: newAlertSink(sender)}
	s.Apply(cfg)
	return s, s.Logger()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) SetAlertSender(sender AlertSender) { s.alerts.setSender(sender) }

// Apply rebuilds the sinks. Loggers already handed out pick up the change.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, consoleWriter(stdout))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = "./pland.log"
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(stderr, "logx: open log file %q: %v\n", path, err)
		} else {
			s.file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}
	s.alerts.configure(cfg.Alerts)
	if cfg.Alerts.Enabled {
		if cfg.Alerts.ChatID == 0 {
			fmt.Fprintln(stderr, "logx: alerts enabled without a chat_id; nothing will be sent")
		}
		sinks = append(sinks, s.alerts)
	}
	if len(sinks) == 0 {
		sinks = append(sinks, consoleWriter(stdout))
	}

	zl := newZerolog(zerolog.MultiLevelWriter(sinks...), parseLevel(cfg.Level, zerolog.InfoLevel))
	s.root.Store(&zl)
}

// Close stops the alert worker and closes the log file.
func (s *Service) Close() error {
	s.alerts.stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:          w,
		TimeFormat:   timeFormat,
		FormatCaller: func(i any) string { s, _ := i.(string); return s },
	}
}
