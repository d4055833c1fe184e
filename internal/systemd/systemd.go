// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package systemd enables applications to signal readiness and update watchdog
// timestamp to systemd.
package systemd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.astrophena.name/formbot/internal/cli"
	"go.astrophena.name/formbot/internal/logger"
)

// State defines a sd-notify protocol state.
// See https://www.freedesktop.org/software/systemd/man/sd_notify.html.
type State string

const (
	// Ready tells the service manager that service startup is
	// finished, or the service finished loading its configuration.
	Ready State = "READY=1"

	// Stopping tells the service manager that the service is beginning its
	// shutdown.
	Stopping State = "STOPPING=1"

	// Watchdog tells the service manager to update the watchdog timestamp.
	Watchdog State = "WATCHDOG=1"
)

// Notify sends a message to systemd using the sd_notify protocol. The socket
// is taken from NOTIFY_SOCKET of the environment in ctx; when it's unset,
// Notify does nothing. Errors are logged, not returned.
func Notify(ctx context.Context, state State) {
	addr := &net.UnixAddr{
		Net:  "unixgram",
		Name: cli.GetEnv(ctx).Getenv("NOTIFY_SOCKET"),
	}
	if addr.Name == "" {
		return
	}

	conn, err := net.DialUnix(addr.Net, nil, addr)
	if err != nil {
		logger.Get(ctx).Warn("systemd: failed when notifying", "state", state, "err", err)
		return
	}
	defer conn.Close()

	if _, err = conn.Write([]byte(state)); err != nil {
		logger.Get(ctx).Warn("systemd: failed when notifying", "state", state, "err", err)
	}
}

// WatchdogLoop periodically updates systemd watchdog timestamp at half of
// WATCHDOG_USEC until ctx is canceled. It returns immediately if the watchdog
// isn't enabled.
func WatchdogLoop(ctx context.Context) {
	usec := cli.GetEnv(ctx).Getenv("WATCHDOG_USEC")
	if usec == "" {
		return
	}

	interval, err := watchdogInterval(usec)
	if err != nil {
		logger.Get(ctx).Warn("systemd: watchdog disabled", "err", err)
		return
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			Notify(ctx, Watchdog)
		case <-ctx.Done():
			return
		}
	}
}

func watchdogInterval(usec string) (time.Duration, error) {
	s, err := strconv.Atoi(usec)
	if err != nil {
		return 0, fmt.Errorf("systemd: error converting WATCHDOG_USEC: %w", err)
	}
	if s <= 0 {
		return 0, errors.New("systemd: WATCHDOG_USEC must be a positive number")
	}
	return time.Duration(s) * time.Microsecond, nil
}
