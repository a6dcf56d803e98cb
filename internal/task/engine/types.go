// Package engine runs reminder fires and other short jobs on a fixed pool of
// workers. Each job gets its own deadline; a panicking job fails alone.
package engine

import (
	"context"
	"time"
)

type Config struct {
	Workers        int
	QueueSize      int
	DefaultTimeout time.Duration // for tasks that set no Timeout
	HistorySize    int
}

func (c Config) withDefaults() Config {
	c.Workers = orDefault(c.Workers, 4)
	c.QueueSize = orDefault(c.QueueSize, 256)
	c.HistorySize = orDefault(c.HistorySize, 200)
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	return c
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

type Task struct {
	ID      string // generated when empty
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Run describes one execution. It is kept in the history ring and is the
// payload of the task.* bus events; Took and Error are unset on task.started.
type Run struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Start  time.Time     `json:"start"`
	Waited time.Duration `json:"waited"`
	Took   time.Duration `json:"took"`
	Error  string        `json:"error,omitempty"`
}

type Snapshot struct {
	Workers  int
	QueueLen int
	QueueCap int
	InFlight int
	Dropped  uint64
	History  []Run
}
