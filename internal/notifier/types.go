package notifier

import (
	"errors"
	"fmt"
	"time"
)

type Config struct {
	RatePerSec  int
	Burst       int
	SendTimeout time.Duration
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 20
	}
	if c.Burst <= 0 {
		c.Burst = c.RatePerSec
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	return c
}

// Class separates failures worth retrying later from ones that will not heal.
type Class int

const (
	Transient Class = iota
	Permanent
)

func (c Class) String() string {
	if c == Permanent {
		return "permanent"
	}
	return "transient"
}

type DeliveryError struct {
	UserID int64
	Class  Class
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %d (%s): %v", e.UserID, e.Class, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func IsPermanent(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Class == Permanent
}

// IsTransient reports whether err is a delivery failure that may succeed later.
func IsTransient(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Class == Transient
}

type HistoryItem struct {
	At     time.Time
	UserID int64
	Chars  int
	Took   time.Duration
	Error  string
}

// DeliveryEvent is published on the event bus after every attempt.
type DeliveryEvent struct {
	UserID int64     `json:"user_id"`
	At     time.Time `json:"at"`
	Class  string    `json:"class,omitempty"`
	Error  string    `json:"error,omitempty"`
}
