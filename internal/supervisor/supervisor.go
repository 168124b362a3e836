// Package supervisor wires the recognition pipeline and the BLE transport
// into one process: it starts both, restarts either on an unhandled
// error with capped exponential backoff, pings a liveness watchdog, and
// drives cooperative shutdown on signal.
package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/kestrel-systems/faceaccess/internal/constants"
)

// Component is one independently-restartable long-running loop.
type Component struct {
	Name string
	Run  func(ctx context.Context) error
}

// Supervisor runs a fixed set of components for the life of the process.
type Supervisor struct {
	log        zerolog.Logger
	components []Component
	onWatchdog func()
	backoff    func(errorCount int) time.Duration
}

// New builds a Supervisor over components. onWatchdog, if non-nil, is
// called every WatchdogIntervalSeconds while the supervisor is running
// (the seam a systemd sd_notify WATCHDOG=1 ping plugs into).
func New(log zerolog.Logger, onWatchdog func(), components ...Component) *Supervisor {
	return &Supervisor{log: log, components: components, onWatchdog: onWatchdog, backoff: backoffDelay}
}

// Run starts every component and the watchdog ticker, and blocks until
// ctx is cancelled or every component has been abandoned after exhausting
// its restart budget.
func (s *Supervisor) Run(ctx context.Context) error {
	done := make(chan struct{}, len(s.components))
	for _, c := range s.components {
		go func(c Component) {
			s.runWithRestart(ctx, c)
			done <- struct{}{}
		}(c)
	}

	go s.watchdogLoop(ctx)

	remaining := len(s.components)
	for remaining > 0 {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			remaining--
		}
	}
	return nil
}

// runWithRestart restarts c.Run on error with backoff starting at
// RestartBackoffFloorSeconds, doubling up to RestartBackoffCapSeconds,
// abandoning the component after DefaultMaxConsecutiveErrors in a row. A
// clean (nil or ctx.Err) return resets the error count.
func (s *Supervisor) runWithRestart(ctx context.Context, c Component) {
	errorCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := c.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil || errors.Is(err, context.Canceled) {
			errorCount = 0
			continue
		}

		errorCount++
		s.log.Error().Err(err).Str("component", c.Name).Int("consecutive_errors", errorCount).Msg("component exited with error")

		if errorCount >= constants.DefaultMaxConsecutiveErrors {
			s.log.Error().Str("component", c.Name).Msg("component abandoned after too many consecutive errors")
			return
		}

		delay := s.backoff(errorCount)
		s.log.Info().Str("component", c.Name).Dur("delay", delay).Msg("restarting component")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func backoffDelay(errorCount int) time.Duration {
	floor := constants.RestartBackoffFloorSeconds
	ceiling := constants.RestartBackoffCapSeconds
	delay := floor << (errorCount - 1)
	if delay > ceiling || delay <= 0 {
		delay = ceiling
	}
	return time.Duration(delay) * time.Second
}

func (s *Supervisor) watchdogLoop(ctx context.Context) {
	if s.onWatchdog == nil {
		return
	}
	ticker := time.NewTicker(time.Duration(constants.WatchdogIntervalSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.onWatchdog()
		}
	}
}
