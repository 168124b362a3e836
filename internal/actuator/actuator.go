// Package actuator drives the door relay GPIO output line and, optionally,
// an independent debounced exit-button input line.
package actuator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/warthog618/gpiod"

	"github.com/kestrel-systems/faceaccess/internal/faulterr"
)

// Config carries the GPIO wiring and timing the Actuator needs.
type Config struct {
	GPIOChip        string
	GPIOPin         int
	ActiveHigh      bool
	MockMode        bool
	ButtonPin       *int
	ButtonActiveLow bool
	ButtonDebounce  time.Duration
	UnlockDuration  time.Duration
}

// Actuator owns the relay output line and the optional button input line.
// In mock mode every operation logs intent and completes without touching
// hardware, so the rest of the system is fully exercisable on any host.
type Actuator struct {
	cfg Config
	log zerolog.Logger

	mock  bool
	chip  *gpiod.Chip
	relay *gpiod.Line
	btn   *gpiod.Line

	unlocking atomic.Bool
	unlockMu  sync.Mutex // serializes the worker goroutine's set-then-clear sequence

	stopButton chan struct{}
	buttonWG   sync.WaitGroup
	cleanupMu  sync.Mutex
	cleanedUp  bool
}

// New opens the relay line (and the button line, if configured) on the
// named chip. If cfg.MockMode is set, or the hardware cannot be opened,
// the Actuator falls back to mock mode rather than failing, matching the
// "mock mode" contract: a missing chip must not prevent the rest of the
// system from running on a development host.
func New(cfg Config, log zerolog.Logger) (*Actuator, error) {
	a := &Actuator{cfg: cfg, log: log, stopButton: make(chan struct{})}

	if cfg.MockMode {
		a.mock = true
		a.log.Info().Msg("actuator running in mock mode (configured)")
		return a, nil
	}

	chip, err := gpiod.NewChip(cfg.GPIOChip, gpiod.WithConsumer("faceaccess"))
	if err != nil {
		a.log.Warn().Err(err).Str("chip", cfg.GPIOChip).Msg("gpio chip unavailable, falling back to mock mode")
		a.mock = true
		return a, nil
	}

	initial := 1
	if cfg.ActiveHigh {
		initial = 0
	}
	relay, err := chip.RequestLine(cfg.GPIOPin, gpiod.AsOutput(initial))
	if err != nil {
		_ = chip.Close()
		a.log.Warn().Err(err).Int("pin", cfg.GPIOPin).Msg("relay line unavailable, falling back to mock mode")
		a.mock = true
		return a, nil
	}

	a.chip = chip
	a.relay = relay

	if cfg.ButtonPin != nil {
		opts := []gpiod.LineReqOption{gpiod.AsInput}
		if cfg.ButtonActiveLow {
			opts = append(opts, gpiod.WithPullUp)
		} else {
			opts = append(opts, gpiod.WithPullDown)
		}
		btn, err := chip.RequestLine(*cfg.ButtonPin, opts...)
		if err != nil {
			a.log.Warn().Err(err).Int("pin", *cfg.ButtonPin).Msg("button line unavailable, exit button disabled")
		} else {
			a.btn = btn
		}
	}

	return a, nil
}

func (a *Actuator) activeValue() int {
	if a.cfg.ActiveHigh {
		return 1
	}
	return 0
}

func (a *Actuator) inactiveValue() int {
	if a.cfg.ActiveHigh {
		return 0
	}
	return 1
}

func (a *Actuator) setLine(value int) {
	if a.mock {
		state := "inactive"
		if value == a.activeValue() {
			state = "active"
		}
		a.log.Info().Str("state", state).Msg("mock relay line set")
		return
	}
	if err := a.relay.SetValue(value); err != nil {
		a.log.Error().Err(err).Msg("failed to set relay line")
	}
}

// Unlock is non-blocking. A process-wide in-progress flag enforces
// at-most-one concurrent unlock; calls made while it is set are dropped
// silently. The actual line toggling happens on a worker goroutine so the
// caller (typically the Pipeline's hot loop or the button monitor) never
// blocks for unlockDuration.
func (a *Actuator) Unlock(duration time.Duration) {
	if duration <= 0 {
		duration = a.cfg.UnlockDuration
	}
	if duration <= 0 {
		duration = 3 * time.Second
	}

	if !a.unlocking.CompareAndSwap(false, true) {
		a.log.Debug().Msg("unlock already in progress, dropping call")
		return
	}

	go func() {
		a.unlockMu.Lock()
		defer a.unlockMu.Unlock()
		defer a.unlocking.Store(false)

		a.setLine(a.activeValue())
		time.Sleep(duration)
		a.setLine(a.inactiveValue())
	}()
}

// Lock synchronously deactivates the relay immediately.
func (a *Actuator) Lock() {
	a.setLine(a.inactiveValue())
}

// IsUnlocking reports whether an unlock cycle is currently in flight.
func (a *Actuator) IsUnlocking() bool {
	return a.unlocking.Load()
}

// StartButtonMonitor spawns a worker polling the button input at ~100 Hz
// with software debounce. callback defaults to Unlock with the configured
// duration. The worker observes stop within CancellationPollMillis.
func (a *Actuator) StartButtonMonitor(callback func()) {
	if a.btn == nil && !a.mock {
		return
	}
	if callback == nil {
		callback = func() { a.Unlock(0) }
	}

	a.buttonWG.Add(1)
	go func() {
		defer a.buttonWG.Done()

		const pollInterval = 10 * time.Millisecond
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		debounce := a.cfg.ButtonDebounce
		if debounce <= 0 {
			debounce = 50 * time.Millisecond
		}

		prevPressed := false
		var lastEdge time.Time

		for {
			select {
			case <-a.stopButton:
				return
			case <-ticker.C:
				pressed := a.readButton()
				now := time.Now()
				if pressed && !prevPressed && now.Sub(lastEdge) >= debounce {
					lastEdge = now
					callback()
				}
				prevPressed = pressed
			}
		}
	}()
}

func (a *Actuator) readButton() bool {
	if a.btn == nil {
		return false
	}
	v, err := a.btn.Value()
	if err != nil {
		a.log.Error().Err(err).Msg("failed to read button line")
		return false
	}
	pressed := v == 1
	if a.cfg.ButtonActiveLow {
		pressed = v == 0
	}
	return pressed
}

// Cleanup stops the button monitor, forces the lock, and releases all GPIO
// resources. Safe to call twice.
func (a *Actuator) Cleanup() error {
	a.cleanupMu.Lock()
	defer a.cleanupMu.Unlock()
	if a.cleanedUp {
		return nil
	}
	a.cleanedUp = true

	close(a.stopButton)
	a.buttonWG.Wait()

	a.Lock()

	if a.mock {
		return nil
	}

	var firstErr error
	if a.btn != nil {
		if err := a.btn.Close(); err != nil {
			firstErr = err
		}
	}
	if a.relay != nil {
		if err := a.relay.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.chip != nil {
		if err := a.chip.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return faulterr.New(faulterr.HardwareUnavailable, "actuator.Cleanup", firstErr)
	}
	return nil
}
