package protocol

import (
	"fmt"
	"time"

	"github.com/kestrel-systems/faceaccess/internal/constants"
)

const (
	continuationMore = 0x01
	continuationLast = 0x00
)

// Fragment splits response body into notify-sized fragments, each
// prepended with a 1-byte continuation flag (0x01 = more follow, 0x00 =
// last). A body that already fits within budget (flag byte included) is
// still wrapped with a single 0x00-flagged fragment: the envelope is
// uniform, only its cardinality varies.
func Fragment(body []byte, budget int) [][]byte {
	if budget <= constants.FragmentFlagSize {
		budget = constants.DefaultFragmentBudget
	}
	chunkSize := budget - constants.FragmentFlagSize

	if len(body) == 0 {
		return [][]byte{{continuationLast}}
	}

	var fragments [][]byte
	for offset := 0; offset < len(body); offset += chunkSize {
		end := offset + chunkSize
		if end > len(body) {
			end = len(body)
		}
		flag := byte(continuationMore)
		if end == len(body) {
			flag = continuationLast
		}
		frag := make([]byte, 0, 1+end-offset)
		frag = append(frag, flag)
		frag = append(frag, body[offset:end]...)
		fragments = append(fragments, frag)
	}
	return fragments
}

// Reassemble concatenates fragment payloads (flag byte stripped) until it
// sees a 0x00-flagged fragment, returning the reconstructed body.
func Reassemble(fragments [][]byte) ([]byte, error) {
	var out []byte
	for i, f := range fragments {
		if len(f) == 0 {
			return nil, fmt.Errorf("empty fragment at index %d", i)
		}
		out = append(out, f[1:]...)
		if f[0] == continuationLast {
			return out, nil
		}
	}
	return nil, fmt.Errorf("fragment stream ended without a final flag")
}

// SendFunc delivers one already-framed fragment; it returns an error if
// the underlying notify write failed.
type SendFunc func(fragment []byte) error

// SendFragmented sends a body that fits within budget as-is, without the
// continuation flag; a larger body is split by Fragment. Each piece goes
// out via send, with consecutive sends paced by at least
// FragmentPaceMillis and each one retried up to FragmentSendRetries times
// before giving up.
func SendFragmented(body []byte, budget int, send SendFunc) error {
	fragments := [][]byte{body}
	if len(body) > budget {
		fragments = Fragment(body, budget)
	}
	pace := time.Duration(constants.FragmentPaceMillis) * time.Millisecond

	for i, frag := range fragments {
		var lastErr error
		for attempt := 0; attempt <= constants.FragmentSendRetries; attempt++ {
			if err := send(frag); err != nil {
				lastErr = err
				continue
			}
			lastErr = nil
			break
		}
		if lastErr != nil {
			return fmt.Errorf("send fragment %d/%d: %w", i+1, len(fragments), lastErr)
		}
		if i < len(fragments)-1 {
			time.Sleep(pace)
		}
	}
	return nil
}
