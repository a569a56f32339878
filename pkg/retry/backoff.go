package retry

import (
	"math"
	"sync"
	"time"
)

// Reconnect backoff defaults.
const (
	DefaultInitialInterval = 250 * time.Millisecond
	DefaultMaxInterval     = 10 * time.Second
	DefaultMultiplier      = 1.7
)

// BackoffConfig configures a Backoff. Zero fields take the defaults.
type BackoffConfig struct {
	InitialInterval time.Duration `json:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `json:"max_interval" yaml:"max_interval"`
	Multiplier      float64       `json:"multiplier" yaml:"multiplier"`
	// MaxRetries stops the sequence after that many delays; 0 = unlimited.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// DefaultBackoffConfig returns the reconnect schedule
// 250ms, 425ms, 722ms, ... capped at 10s with no retry limit.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
		Multiplier:      DefaultMultiplier,
	}
}

// Backoff is a deterministic reconnect schedule. Next returns the delay to
// wait before the upcoming attempt and advances the schedule; Reset rewinds
// it after a successful connection. Intervals are whole milliseconds,
// floored after each multiplication.
type Backoff struct {
	mu       sync.Mutex
	cfg      BackoffConfig
	current  time.Duration
	attempts int
}

// NewBackoff creates a Backoff, filling zero config fields with defaults.
func NewBackoff(cfg BackoffConfig) *Backoff {
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = DefaultInitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = DefaultMaxInterval
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		cfg.MaxInterval = cfg.InitialInterval
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = DefaultMultiplier
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Backoff{cfg: cfg, current: cfg.InitialInterval}
}

// Next returns the delay for the upcoming attempt. ok is false once
// MaxRetries delays have been handed out.
func (b *Backoff) Next() (delay time.Duration, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cfg.MaxRetries > 0 && b.attempts >= b.cfg.MaxRetries {
		return 0, false
	}
	b.attempts++

	delay = b.current
	ms := math.Floor(float64(b.current.Milliseconds()) * b.cfg.Multiplier)
	next := time.Duration(ms) * time.Millisecond
	if next > b.cfg.MaxInterval {
		next = b.cfg.MaxInterval
	}
	b.current = next
	return delay, true
}

// Peek returns the delay Next would return without advancing.
func (b *Backoff) Peek() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Attempts returns how many delays were handed out since the last Reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Reset rewinds the schedule to the initial interval.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.cfg.InitialInterval
	b.attempts = 0
}
