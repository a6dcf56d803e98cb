package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"pland/internal/config"
	logx "pland/pkg/logx"
)

// sdNotifier reports lifecycle state to systemd. Outside a Type=notify unit
// every call is a silent no-op.
type sdNotifier struct {
	cfg config.SystemdConfig
	log logx.Logger
	// notify is daemon.SdNotify; swapped in tests.
	notify func(unsetEnv bool, state string) (bool, error)
}

func newSdNotifier(cfg config.SystemdConfig, log logx.Logger) *sdNotifier {
	return &sdNotifier{cfg: cfg, log: log.With(logx.String("comp", "systemd")), notify: daemon.SdNotify}
}

func (n *sdNotifier) send(state string) {
	if !n.cfg.Notify {
		return
	}
	sent, err := n.notify(false, state)
	switch {
	case err != nil:
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		n.log.Debug("sd_notify", logx.String("state", state))
	}
}

func (n *sdNotifier) Ready()     { n.send(daemon.SdNotifyReady) }
func (n *sdNotifier) Stopping()  { n.send(daemon.SdNotifyStopping) }
func (n *sdNotifier) Reloading() { n.send(daemon.SdNotifyReloading) }

// Watchdog pings systemd at half the unit's WatchdogSec until ctx ends.
// It returns at once when the unit has no watchdog.
func (n *sdNotifier) Watchdog(ctx context.Context) {
	if !n.cfg.Notify || !n.cfg.Watchdog {
		return
	}
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.log.Warn("watchdog check failed", logx.Err(err))
		return
	}
	if every <= 0 {
		return
	}
	n.log.Info("systemd watchdog enabled", logx.Duration("interval", every))
	t := time.NewTicker(every / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
