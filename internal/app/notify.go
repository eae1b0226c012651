package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"taskrt/internal/runtime/supervisor"
	logx "taskrt/pkg/logx"
)

// notifier speaks the sd_notify protocol. Outside systemd (no
// NOTIFY_SOCKET) every call is a no-op.
type notifier struct {
	log logx.Logger
}

func newNotifier(log logx.Logger) *notifier { return &notifier{log: log} }

func (n *notifier) send(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Trace("sd_notify", logx.String("state", state))
	}
}

func (n *notifier) ready(status string) {
	n.send(daemon.SdNotifyReady)
	if status != "" {
		n.send("STATUS=" + status)
	}
}

func (n *notifier) stopping() { n.send(daemon.SdNotifyStopping) }

// startWatchdog pings the watchdog at half the interval systemd asks for.
func (n *notifier) startWatchdog(sup *supervisor.Supervisor) {
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil || every <= 0 {
		return
	}
	sup.Go("systemd.watchdog", func(c context.Context) error {
		t := time.NewTicker(every / 2)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return nil
			case <-t.C:
				n.send(daemon.SdNotifyWatchdog)
			}
		}
	})
}
