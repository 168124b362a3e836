// Package transport presents the single GATT service the registration
// protocol rides over: one write characteristic for commands, one notify
// characteristic for responses. It is a thin bridge -- byte framing and
// command semantics live in internal/protocol; this package only owns
// advertising, subscription lifecycle, and moving bytes.
package transport

import (
	"context"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kestrel-systems/faceaccess/internal/constants"
	"github.com/kestrel-systems/faceaccess/internal/faulterr"
	"github.com/kestrel-systems/faceaccess/internal/protocol"
)

// Dispatch is the seam into the command layer: one decoded payload in,
// one response payload (or nil) out.
type Dispatch func(ctx context.Context, payload []byte) ([]byte, error)

// Config carries the GATT identifiers and fragmentation/timeout knobs.
type Config struct {
	DeviceName       string
	ServiceUUID      string
	CommandCharUUID  string
	ResponseCharUUID string
	FragmentBudget   int
}

// Peripheral advertises the registration GATT service and bridges the
// write/notify characteristics to a protocol.Framer + Dispatch pair.
type Peripheral struct {
	cfg     Config
	dispatch Dispatch
	log     zerolog.Logger

	adapter    *bluetooth.Adapter
	responseCh bluetooth.Characteristic

	mu        sync.Mutex
	framer    *protocol.Framer
	notifying bool
	connID    string

	lastActivity time.Time
	seq          byte
}

// NewPeripheral wires cfg and dispatch into a not-yet-started Peripheral.
func NewPeripheral(cfg Config, dispatch Dispatch, log zerolog.Logger) *Peripheral {
	if cfg.FragmentBudget <= 0 {
		cfg.FragmentBudget = constants.DefaultFragmentBudget
	}
	return &Peripheral{
		cfg:      cfg,
		dispatch: dispatch,
		log:      log,
		framer:   protocol.NewFramer(0),
	}
}

// Start enables the adapter, registers the service, and begins
// advertising under cfg.DeviceName. It blocks until ctx is cancelled.
func (p *Peripheral) Start(ctx context.Context) error {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return faulterr.New(faulterr.HardwareUnavailable, "transport.Start", err)
	}
	p.adapter = adapter

	serviceUUID, err := bluetooth.ParseUUID(p.cfg.ServiceUUID)
	if err != nil {
		return faulterr.New(faulterr.ConfigInvalid, "transport.Start", err)
	}
	commandUUID, err := bluetooth.ParseUUID(p.cfg.CommandCharUUID)
	if err != nil {
		return faulterr.New(faulterr.ConfigInvalid, "transport.Start", err)
	}
	responseUUID, err := bluetooth.ParseUUID(p.cfg.ResponseCharUUID)
	if err != nil {
		return faulterr.New(faulterr.ConfigInvalid, "transport.Start", err)
	}

	var commandChar, responseChar bluetooth.Characteristic
	err = adapter.AddService(&bluetooth.Service{
		UUID: serviceUUID,
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				Handle: &commandChar,
				UUID:   commandUUID,
				Flags:  bluetooth.CharacteristicWritePermission | bluetooth.CharacteristicWriteWithoutResponsePermission,
				WriteEvent: func(client bluetooth.Connection, offset int, value []byte) {
					p.onWrite(ctx, value)
				},
			},
			{
				Handle: &responseChar,
				UUID:   responseUUID,
				Flags:  bluetooth.CharacteristicNotifyPermission,
				WriteEvent: func(client bluetooth.Connection, offset int, value []byte) {},
			},
		},
	})
	if err != nil {
		return faulterr.New(faulterr.HardwareUnavailable, "transport.Start", err)
	}
	p.responseCh = responseChar

	adv := adapter.DefaultAdvertisement()
	if err := adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    p.cfg.DeviceName,
		ServiceUUIDs: []bluetooth.UUID{serviceUUID},
	}); err != nil {
		return faulterr.New(faulterr.HardwareUnavailable, "transport.Start", err)
	}
	if err := adv.Start(); err != nil {
		return faulterr.New(faulterr.HardwareUnavailable, "transport.Start", err)
	}

	p.mu.Lock()
	p.notifying = true
	p.connID = uuid.NewString()
	p.lastActivity = time.Now()
	p.mu.Unlock()

	go p.watchInactivity(ctx)

	<-ctx.Done()
	return adv.Stop()
}

// onWrite is the bridge's only concurrency seam: writes serialize through
// the peripheral's mutex alongside the inactivity watchdog and
// ResetReceiver calls triggered by subscription events.
func (p *Peripheral) onWrite(ctx context.Context, value []byte) {
	p.mu.Lock()
	p.lastActivity = time.Now()
	connID := p.connID
	payloads, oversize := p.framer.Feed(value)
	p.mu.Unlock()

	log := p.log.With().Str("conn_id", connID).Logger()

	if oversize {
		p.sendResponse([]byte(`{"type":"ERROR","message":"Command too large"}`))
		return
	}

	for _, payload := range payloads {
		resp, err := p.dispatch(ctx, payload)
		if err != nil {
			log.Error().Err(err).Msg("dispatch error")
			continue
		}
		if resp != nil {
			p.sendResponse(resp)
		}
	}
}

// sendResponse fragments resp per the notify size budget and paces
// delivery across the notify characteristic.
func (p *Peripheral) sendResponse(resp []byte) {
	p.mu.Lock()
	notifying := p.notifying
	connID := p.connID
	p.mu.Unlock()

	log := p.log.With().Str("conn_id", connID).Logger()

	if !notifying {
		log.Warn().Msg("client not subscribed, dropping response")
		return
	}

	err := protocol.SendFragmented(resp, p.cfg.FragmentBudget, func(fragment []byte) error {
		p.mu.Lock()
		p.seq++
		seq := p.seq
		p.mu.Unlock()
		_, err := p.responseCh.Write(protocol.Encode(fragment, seq))
		return err
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to send fragmented response")
	}
}

// ResetReceiver clears all receiver state: framer sequence memory and the
// Dispatcher's session belong to separate layers, so callers also reset
// the Dispatcher's session on this event.
func (p *Peripheral) ResetReceiver() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.framer.Reset()
}

// SetNotifying toggles whether responses are actually written, mirroring
// StartNotify/StopNotify on the response characteristic; both transitions
// reset receiver state (new client session or a disconnect). A transition
// to subscribed stamps a fresh connection correlation id that tags every
// log line for the lifetime of that connection.
func (p *Peripheral) SetNotifying(notifying bool) {
	p.mu.Lock()
	p.notifying = notifying
	if notifying {
		p.connID = uuid.NewString()
	}
	connID := p.connID
	p.mu.Unlock()

	p.log.Info().Str("conn_id", connID).Bool("notifying", notifying).Msg("client subscription changed")
	p.ResetReceiver()
}

func (p *Peripheral) watchInactivity(ctx context.Context) {
	timeout := time.Duration(constants.NotifyInactivityTimeout) * time.Second
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			idle := time.Since(p.lastActivity)
			p.mu.Unlock()
			if idle > timeout {
				p.ResetReceiver()
			}
		}
	}
}
