package backoff

import (
	"errors"
	"math"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/halo-iot/halo-go/pkg/halolog"
)

// Backoff defaults.
const (
	// DefaultExponentClamp bounds the exponent of the base delay term.
	// 2^20 milliseconds is roughly 17.5 minutes.
	DefaultExponentClamp = 20

	// DefaultMaxRetries is effectively unbounded.
	DefaultMaxRetries = math.MaxInt32

	// JitterRange is the half-width of the uniform jitter interval.
	// Jitter is drawn from [-JitterRange, +JitterRange).
	JitterRange = 1000 * time.Millisecond
)

// Transient is implemented by errors that report whether they are
// worth retrying.
type Transient interface {
	Transient() bool
}

// Policy decides retry-or-give-up and computes jittered exponential delays.
// Policy is safe for concurrent use.
type Policy struct {
	mu sync.Mutex

	// Configuration
	maxRetries    int
	exponentClamp int

	// Errors always treated as retriable (matched with errors.Is)
	retryOn []error

	// Random source for jitter
	rng *rand.Rand

	logger halolog.Logger
}

// Config allows customizing policy parameters.
type Config struct {
	// MaxRetries is the attempt count after which the policy gives up
	// regardless of error classification. Zero means unbounded.
	MaxRetries int

	// ExponentClamp bounds the exponent of the base delay term.
	// Zero means DefaultExponentClamp.
	ExponentClamp int

	// RetryOn lists errors that are always retriable, matched with
	// errors.Is. Use for failures the application resolves elsewhere,
	// such as an unauthorized error handled by re-initialization.
	RetryOn []error

	// Logger receives a retry event for every decision. Nil disables.
	Logger halolog.Logger
}

// NewPolicy creates a policy with default settings: unbounded retries,
// exponent clamp 20, no allow-list.
func NewPolicy() *Policy {
	return NewPolicyWithConfig(Config{})
}

// NewPolicyWithConfig creates a policy with custom settings.
func NewPolicyWithConfig(cfg Config) *Policy {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.ExponentClamp <= 0 {
		cfg.ExponentClamp = DefaultExponentClamp
	}
	logger := cfg.Logger
	if logger == nil {
		logger = halolog.NoopLogger{}
	}

	return &Policy{
		maxRetries:    cfg.MaxRetries,
		exponentClamp: cfg.ExponentClamp,
		retryOn:       cfg.RetryOn,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:        logger,
	}
}

// ShouldRetry reports whether the operation should be retried after the
// given zero-based attempt, and the delay to wait before the next attempt.
// A nil lastErr means the attempt was skipped rather than failed (the
// operation was not actionable) and is always retriable.
func (p *Policy) ShouldRetry(attempt int, lastErr error) (bool, time.Duration) {
	retry := attempt <= p.maxRetries && p.retriable(lastErr)

	var delay time.Duration
	if retry {
		delay = p.Delay(attempt)
	}

	p.log(attempt, lastErr, retry, delay)
	return retry, delay
}

// Delay computes the jittered delay for the given attempt without making
// a retry decision.
func (p *Policy) Delay(attempt int) time.Duration {
	exponent := attempt
	if exponent > p.exponentClamp {
		exponent = p.exponentClamp
	}
	base := time.Duration(int64(1)<<uint(exponent)) * time.Millisecond

	delay := base + p.jitter()
	if delay < 0 {
		delay = -delay
	}
	return delay
}

// MaxDelay returns the largest delay the policy can produce.
func (p *Policy) MaxDelay() time.Duration {
	return time.Duration(int64(1)<<uint(p.exponentClamp))*time.Millisecond + JitterRange
}

// jitter returns a uniformly distributed value in [-JitterRange, +JitterRange).
func (p *Policy) jitter() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Duration(p.rng.Int63n(int64(2*JitterRange))) - JitterRange
}

// retriable classifies the failure.
func (p *Policy) retriable(err error) bool {
	if err == nil {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var transient Transient
	if errors.As(err, &transient) && transient.Transient() {
		return true
	}

	for _, allowed := range p.retryOn {
		if errors.Is(err, allowed) {
			return true
		}
	}
	return false
}

// log reports the retry decision for observability. Does not affect
// control flow.
func (p *Policy) log(attempt int, lastErr error, retry bool, delay time.Duration) {
	event := halolog.NewEvent(halolog.CategoryRetry)
	event.Retry = &halolog.RetryEvent{
		Attempt: attempt,
		Delay:   delay,
		Outcome: "give-up",
	}
	if retry {
		event.Retry.Outcome = "retry"
	} else {
		event.Severity = halolog.SeverityWarn
	}
	if lastErr != nil {
		event.Retry.Failure = lastErr.Error()
	}
	p.logger.Log(event)
}
