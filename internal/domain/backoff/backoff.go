// ABOUTME: Exponential backoff state shared by the client reconnect loop and the accept loop
// ABOUTME: Bounded vs unbounded retry is a named policy choice, not a code path difference
package backoff

import (
	"errors"
	"math"
	"time"

	cbackoff "github.com/cenkalti/backoff/v4"
)

// ErrRetriesExhausted is returned once a bounded policy has no attempts left.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Unbounded as Policy.MaxAttempts retries forever.
const Unbounded = 0

// Policy configures a retry sequence. The delay before retry attempt f+1
// (f counting from zero) is BaseDelay * 2^f, capped at MaxDelay. A MaxDelay
// of zero leaves the delay uncapped.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultClientPolicy gives up after five consecutive failed retries.
func DefaultClientPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// DefaultAcceptPolicy never gives up; a listener that stops accepting is a
// dead server.
func DefaultAcceptPolicy() Policy {
	return Policy{
		MaxAttempts: Unbounded,
		BaseDelay:   5 * time.Millisecond,
		MaxDelay:    1 * time.Second,
	}
}

func (p Policy) Bounded() bool { return p.MaxAttempts > 0 }

func (p Policy) Capped() bool { return p.MaxDelay > 0 }

// Backoff tracks consecutive failures against a Policy. It is not safe for
// concurrent use.
type Backoff struct {
	policy  Policy
	seq     cbackoff.BackOff
	attempt int
}

func New(p Policy) *Backoff {
	exp := cbackoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	exp.MaxInterval = time.Duration(math.MaxInt64)
	if p.Capped() {
		exp.MaxInterval = p.MaxDelay
	}
	exp.MaxElapsedTime = 0
	exp.Reset()

	var seq cbackoff.BackOff = exp
	if p.Bounded() {
		seq = cbackoff.WithMaxRetries(exp, uint64(p.MaxAttempts))
	}
	return &Backoff{policy: p, seq: seq}
}

// Attempt is the number of retries already scheduled since the last Reset.
func (b *Backoff) Attempt() int { return b.attempt }

// Next records a failure and returns the wait before the next retry. ok is
// false once a bounded policy has used all of its attempts.
func (b *Backoff) Next() (delay time.Duration, ok bool) {
	delay = b.seq.NextBackOff()
	if delay == cbackoff.Stop {
		return 0, false
	}
	b.attempt++
	return delay, true
}

// Reset returns to the base delay after a success.
func (b *Backoff) Reset() {
	b.seq.Reset()
	b.attempt = 0
}
