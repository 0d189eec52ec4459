package bridge

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bazelment/yoloswe/acpbridge/guard"
)

// ErrThrottled is returned when a sender exceeds its prompt rate.
var ErrThrottled = errors.New("sender is throttled")

// AdmissionConfig bounds how often each sender may prompt the agent.
type AdmissionConfig struct {
	// Window and MaxPrompts define the per-sender fixed window.
	Window     time.Duration
	MaxPrompts int
	// TurnTTL is how long a sender's turn numbering survives inactivity.
	TurnTTL time.Duration
	// MaxSenders caps the number of tracked senders.
	MaxSenders int
}

// DefaultAdmissionConfig allows 5 prompts per sender per minute.
func DefaultAdmissionConfig() AdmissionConfig {
	return AdmissionConfig{
		Window:     time.Minute,
		MaxPrompts: 5,
		TurnTTL:    30 * time.Minute,
		MaxSenders: guard.DefaultMaxKeys,
	}
}

// Admission throttles prompts per sender and numbers each sender's turns.
// It is safe for concurrent use.
type Admission struct {
	limiter *guard.FixedWindowLimiter
	turns   *guard.BoundedCounter
	now     func() time.Time
	mu      sync.Mutex
}

// NewAdmission creates an Admission from cfg.
func NewAdmission(cfg AdmissionConfig) *Admission {
	return &Admission{
		limiter: guard.NewFixedWindowLimiter(guard.LimiterConfig{
			Window:      cfg.Window,
			MaxRequests: cfg.MaxPrompts,
			MaxKeys:     cfg.MaxSenders,
		}),
		turns: guard.NewBoundedCounter(guard.CounterConfig{
			TTL:     cfg.TurnTTL,
			MaxKeys: cfg.MaxSenders,
		}),
		now: time.Now,
	}
}

// Admit reports the sender's turn number, or ErrThrottled.
func (a *Admission) Admit(sender string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	if a.limiter.IsRateLimited(sender, now) {
		return 0, fmt.Errorf("%w: %s", ErrThrottled, sender)
	}
	return a.turns.Increment(sender, now), nil
}

// Senders reports how many senders are currently tracked.
func (a *Admission) Senders() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.limiter.Size()
}

// Reset forgets every sender.
func (a *Admission) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.limiter.Clear()
	a.turns.Clear()
}
