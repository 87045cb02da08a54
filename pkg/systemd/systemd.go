// Package systemd reports service state to systemd (Type=notify units).
// Every call is a no-op when NOTIFY_SOCKET is unset.
package systemd

import (
	"strings"

	"github.com/coreos/go-systemd/v22/daemon"
)

// notify is swapped in tests.
var notify = daemon.SdNotify

func Ready() (bool, error) { return notify(false, daemon.SdNotifyReady) }

func Stopping() (bool, error) { return notify(false, daemon.SdNotifyStopping) }

func Reloading() (bool, error) { return notify(false, daemon.SdNotifyReloading) }

// Status publishes a one-line status shown by `systemctl status`.
func Status(msg string) (bool, error) {
	msg = strings.ReplaceAll(strings.TrimSpace(msg), "\n", " ")
	return notify(false, "STATUS="+msg)
}
