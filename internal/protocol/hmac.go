package protocol

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kestrel-systems/faceaccess/internal/constants"
	"github.com/kestrel-systems/faceaccess/internal/faulterr"
)

// NonceLedger tracks nonces already accepted, evicting the oldest half
// once it grows past MaxLedgerNonces. It is not safe for concurrent use;
// callers serialize through the same Authenticator that owns it.
type NonceLedger struct {
	seen  map[string]struct{}
	order []string
}

func NewNonceLedger() *NonceLedger {
	return &NonceLedger{seen: make(map[string]struct{})}
}

func (l *NonceLedger) Contains(nonce string) bool {
	_, ok := l.seen[nonce]
	return ok
}

func (l *NonceLedger) Insert(nonce string) {
	l.seen[nonce] = struct{}{}
	l.order = append(l.order, nonce)
	if len(l.order) > constants.MaxLedgerNonces {
		evict := len(l.order) - constants.MaxLedgerNoncesAfterEvict
		for _, n := range l.order[:evict] {
			delete(l.seen, n)
		}
		l.order = l.order[evict:]
	}
}

// Authenticator verifies admin command HMACs under a shared secret.
type Authenticator struct {
	secret  string
	enabled bool
	ledger  *NonceLedger
	now     func() time.Time
}

func NewAuthenticator(secret string, enabled bool) *Authenticator {
	return &Authenticator{secret: secret, enabled: enabled, ledger: NewNonceLedger(), now: time.Now}
}

// Verify checks a command's hmac and nonce fields per the canonical
// serialization contract: strip hmac, marshal with sorted keys, compute
// HMAC-SHA256 under the shared secret, compare in constant time. On
// acceptance the nonce is recorded so replays fail.
func (a *Authenticator) Verify(command map[string]any) error {
	if !a.enabled {
		return nil
	}
	if a.secret == "" {
		return faulterr.New(faulterr.AuthFailure, "protocol.Verify", fmt.Errorf("hmac enabled but no shared secret configured"))
	}

	sig, _ := command["hmac"].(string)
	nonce, _ := command["nonce"].(string)
	if sig == "" || nonce == "" {
		return faulterr.New(faulterr.AuthFailure, "protocol.Verify", fmt.Errorf("missing hmac or nonce"))
	}

	if a.ledger.Contains(nonce) {
		return faulterr.New(faulterr.AuthFailure, "protocol.Verify", fmt.Errorf("nonce already used"))
	}

	ts, err := nonceTimestamp(nonce)
	if err != nil {
		return faulterr.New(faulterr.AuthFailure, "protocol.Verify", err)
	}
	if drift := a.now().Unix() - ts; drift > constants.NonceWindowSeconds || drift < -constants.NonceWindowSeconds {
		return faulterr.New(faulterr.AuthFailure, "protocol.Verify", fmt.Errorf("nonce timestamp outside window"))
	}

	expected, err := computeHMAC(a.secret, command)
	if err != nil {
		return faulterr.New(faulterr.AuthFailure, "protocol.Verify", err)
	}
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return faulterr.New(faulterr.AuthFailure, "protocol.Verify", fmt.Errorf("HMAC signature mismatch"))
	}

	a.ledger.Insert(nonce)
	return nil
}

func nonceTimestamp(nonce string) (int64, error) {
	parts := strings.SplitN(nonce, "_", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid nonce format")
	}
	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid nonce format: %w", err)
	}
	return ts, nil
}

func computeHMAC(secret string, command map[string]any) (string, error) {
	canonical, err := canonicalJSON(command)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// canonicalJSON serializes command with the hmac field removed and object
// keys in sorted order, matching the signer's serialization exactly.
func canonicalJSON(command map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(command))
	for k := range command {
		if k == "hmac" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		valJSON, err := json.Marshal(command[k])
		if err != nil {
			return nil, err
		}
		b.Write(keyJSON)
		b.WriteByte(':')
		b.Write(valJSON)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}
