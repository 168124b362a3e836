package transport

import (
	"testing"

	"github.com/rs/zerolog"
)

// responseCh is a concrete bluetooth.Characteristic that only a live
// adapter can produce, so these tests exercise the parts of Peripheral
// that don't require one: receiver reset and the notifying gate. Command
// framing and fragmentation are covered directly in internal/protocol.

func TestSetNotifyingFalseDropsResponsesSilently(t *testing.T) {
	p := NewPeripheral(Config{DeviceName: "test"}, nil, zerolog.Nop())
	p.SetNotifying(false)
	// sendResponse must return without touching the (nil) responseCh.
	p.sendResponse([]byte(`{"type":"OK"}`))
}

func TestResetReceiverClearsFramerState(t *testing.T) {
	p := NewPeripheral(Config{DeviceName: "test"}, nil, zerolog.Nop())
	p.framer.Feed([]byte{0, 2, 1, 'h', 'e'})
	p.ResetReceiver()
	// After reset, a fresh seq-0 frame must be accepted as a new session.
	payloads, oversize := p.framer.Feed([]byte{0, 2, 0, 'h', 'i'})
	if oversize {
		t.Fatal("unexpected oversize after reset")
	}
	if len(payloads) != 1 || string(payloads[0]) != "hi" {
		t.Fatalf("got %v, want a single \"hi\" payload", payloads)
	}
}

func TestSetNotifyingTrueStampsAFreshConnectionID(t *testing.T) {
	p := NewPeripheral(Config{DeviceName: "test"}, nil, zerolog.Nop())
	p.SetNotifying(true)
	first := p.connID
	if first == "" {
		t.Fatal("expected SetNotifying(true) to stamp a connection id")
	}
	p.SetNotifying(true)
	if p.connID == first {
		t.Fatal("expected a fresh connection id on each subscribe")
	}
}

func TestSetNotifyingResetsReceiverState(t *testing.T) {
	p := NewPeripheral(Config{DeviceName: "test"}, nil, zerolog.Nop())
	p.framer.Feed([]byte{0, 2, 1, 'h', 'e'})
	p.SetNotifying(true)
	payloads, _ := p.framer.Feed([]byte{0, 2, 0, 'h', 'i'})
	if len(payloads) != 1 || string(payloads[0]) != "hi" {
		t.Fatalf("got %v, want a single \"hi\" payload after SetNotifying reset", payloads)
	}
}
