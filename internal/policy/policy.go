// Package policy decides whether a recognized (or unrecognized) face is
// granted access, applying grant lockout, rate limiting, the active flag,
// and the employee's time window in that fixed order.
package policy

import (
	"fmt"
	"sync"
	"time"

	"github.com/kestrel-systems/faceaccess/internal/store"
)

// Config carries the tunables that would otherwise be magic numbers.
type Config struct {
	GlobalCooldown       time.Duration
	MaxAttemptsPerMinute int
	GrantedLockout       time.Duration
}

// DefaultConfig matches the defaults named in the access configuration section.
func DefaultConfig() Config {
	return Config{
		GlobalCooldown:       500 * time.Millisecond,
		MaxAttemptsPerMinute: 30,
		GrantedLockout:       10 * time.Second,
	}
}

// Decision is the outcome of one access attempt.
type Decision struct {
	Granted  bool
	Reason   string
	Metadata map[string]any
}

// Policy is stateful per process: it remembers the last global attempt
// time, each identity's recent attempt timestamps, and each identity's
// last granted time.
type Policy struct {
	cfg Config

	mu                sync.Mutex
	lastGlobalAttempt time.Time
	attemptsByID      map[string][]time.Time
	lastGrantedByID   map[string]time.Time

	now func() time.Time
}

// New returns a Policy with the given configuration.
func New(cfg Config) *Policy {
	return &Policy{
		cfg:             cfg,
		attemptsByID:    make(map[string][]time.Time),
		lastGrantedByID: make(map[string]time.Time),
		now:             time.Now,
	}
}

// CheckTimeWindow passes iff start <= now <= end.
func CheckTimeWindow(emp store.Employee, now time.Time) (bool, string) {
	if now.Before(emp.AccessStart) {
		return false, "access period has not started"
	}
	if now.After(emp.AccessEnd) {
		return false, "access period has expired"
	}
	return true, ""
}

// CheckActive passes iff the employee's active flag is set.
func CheckActive(emp store.Employee) (bool, string) {
	if !emp.Active {
		return false, "employee is not active"
	}
	return true, ""
}

// CheckRateLimit applies the global cooldown and the per-identity sliding
// window. identifier may be empty for an unrecognized face, in which case
// only the global cooldown applies.
func (p *Policy) CheckRateLimit(identifier string) (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checkRateLimitLocked(identifier)
}

func (p *Policy) checkRateLimitLocked(identifier string) (bool, string) {
	now := p.now()

	if !p.lastGlobalAttempt.IsZero() && now.Sub(p.lastGlobalAttempt) < p.cfg.GlobalCooldown {
		return false, "global cooldown in effect"
	}

	if identifier != "" {
		window := now.Add(-time.Duration(60) * time.Second)
		pruned := p.attemptsByID[identifier][:0]
		for _, t := range p.attemptsByID[identifier] {
			if t.After(window) {
				pruned = append(pruned, t)
			}
		}
		p.attemptsByID[identifier] = pruned

		if len(pruned) >= p.cfg.MaxAttemptsPerMinute {
			return false, "rate limit exceeded"
		}
	}

	p.lastGlobalAttempt = now
	if identifier != "" {
		p.attemptsByID[identifier] = append(p.attemptsByID[identifier], now)
	}
	return true, ""
}

// CheckGrantLockout rejects if the identity was granted within the lockout window.
func (p *Policy) CheckGrantLockout(employeeID string) (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checkGrantLockoutLocked(employeeID)
}

func (p *Policy) checkGrantLockoutLocked(employeeID string) (bool, string) {
	last, ok := p.lastGrantedByID[employeeID]
	if !ok {
		return true, ""
	}
	if p.now().Sub(last) < p.cfg.GrantedLockout {
		return false, "recently granted (lockout in effect)"
	}
	return true, ""
}

// RecordGranted marks employeeID as just granted.
func (p *Policy) RecordGranted(employeeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastGrantedByID[employeeID] = p.now()
}

// ProcessAccessAttempt orchestrates grant-lockout -> rate-limit -> active ->
// time-window, in that fixed order. A nil employee or a score below
// threshold short-circuits to denied before any state mutation. On grant,
// the identity's last-granted time is set to now under the same lock, with
// the same effect as RecordGranted.
func (p *Policy) ProcessAccessAttempt(emp *store.Employee, score, threshold float64) Decision {
	meta := map[string]any{
		"similarity_score":     score,
		"similarity_threshold": threshold,
	}
	if emp != nil {
		meta["employee_id"] = emp.ID
		meta["display_name"] = emp.DisplayName
	}

	if emp == nil || score < threshold {
		return Decision{Granted: false, Reason: "no match above threshold", Metadata: meta}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if ok, reason := p.checkGrantLockoutLocked(emp.ID); !ok {
		return Decision{Granted: false, Reason: reason, Metadata: meta}
	}
	if ok, reason := p.checkRateLimitLocked(emp.ID); !ok {
		return Decision{Granted: false, Reason: reason, Metadata: meta}
	}
	if ok, reason := CheckActive(*emp); !ok {
		return Decision{Granted: false, Reason: reason, Metadata: meta}
	}
	if ok, reason := CheckTimeWindow(*emp, p.now()); !ok {
		return Decision{Granted: false, Reason: reason, Metadata: meta}
	}

	p.lastGrantedByID[emp.ID] = p.now()
	return Decision{Granted: true, Reason: fmt.Sprintf("matched %s", emp.ID), Metadata: meta}
}
