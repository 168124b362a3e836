package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"testing"
)

// P10: any response of size B, B > fragment budget, arrives as exactly
// ceil(B/(budget-1)) fragments with correct flags, and concatenating
// fragment payloads reproduces the original body.
func TestFragmentRoundTrip(t *testing.T) {
	budget := 50
	body := bytes.Repeat([]byte("0123456789"), 37) // 370 bytes

	fragments := Fragment(body, budget)

	wantCount := int(math.Ceil(float64(len(body)) / float64(budget-1)))
	if len(fragments) != wantCount {
		t.Fatalf("fragment count = %d, want %d", len(fragments), wantCount)
	}

	for i, f := range fragments {
		isLast := i == len(fragments)-1
		if isLast && f[0] != continuationLast {
			t.Fatalf("fragment %d: expected final flag", i)
		}
		if !isLast && f[0] != continuationMore {
			t.Fatalf("fragment %d: expected continuation flag", i)
		}
	}

	got, err := Reassemble(fragments)
	if err != nil {
		t.Fatalf("Reassemble: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatal("reassembled body does not match original")
	}
}

func TestFragmentSmallBodySingleFragment(t *testing.T) {
	body := []byte(`{"type":"OK"}`)
	fragments := Fragment(body, 180)
	if len(fragments) != 1 {
		t.Fatalf("expected a single fragment, got %d", len(fragments))
	}
	if fragments[0][0] != continuationLast {
		t.Fatal("expected the single fragment to carry the final flag")
	}
}

func TestSendFragmentedRetriesOnFailure(t *testing.T) {
	body := bytes.Repeat([]byte("x"), 300)
	attempts := 0
	firstFragmentFailures := 2

	err := SendFragmented(body, 50, func(frag []byte) error {
		attempts++
		if attempts <= firstFragmentFailures {
			return errors.New("transient notify failure")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
}

func TestSendFragmentedGivesUpAfterRetries(t *testing.T) {
	err := SendFragmented([]byte("hello"), 180, func(frag []byte) error {
		return fmt.Errorf("permanent failure")
	})
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
}
