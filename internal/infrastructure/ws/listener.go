// ABOUTME: Listener wrapper that retries transient accept failures with backoff
// ABOUTME: Keeps the server accepting through descriptor exhaustion and aborted handshakes
package ws

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/harper/audiorelay/internal/domain/backoff"
	"github.com/harper/audiorelay/internal/infrastructure/clock"
)

type RetryListener struct {
	net.Listener

	policy backoff.Policy
	clock  clock.Clock
	log    *log.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// NewRetryListener wraps l. A nil clock uses wall time; a nil logger uses
// the default logger.
func NewRetryListener(l net.Listener, policy backoff.Policy, clk clock.Clock, logger *log.Logger) *RetryListener {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &RetryListener{
		Listener: l,
		policy:   policy,
		clock:    clk,
		log:      logger,
		closed:   make(chan struct{}),
	}
}

// Accept returns the next connection. Transient errors are retried under
// the policy; the backoff restarts after every successful accept.
func (l *RetryListener) Accept() (net.Conn, error) {
	b := backoff.New(l.policy)
	for {
		conn, err := l.Listener.Accept()
		if err == nil {
			return conn, nil
		}
		if !isTransient(err) {
			return nil, err
		}

		delay, ok := b.Next()
		if !ok {
			return nil, fmt.Errorf("accept: %w: %w", backoff.ErrRetriesExhausted, err)
		}
		l.log.Warn("accept failed, retrying", "error", err, "delay", delay, "attempt", b.Attempt())

		if !l.wait(delay) {
			return nil, net.ErrClosed
		}
	}
}

// wait reports false if the listener was closed before d elapsed.
func (l *RetryListener) wait(d time.Duration) bool {
	t := l.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-l.closed:
		return false
	}
}

func (l *RetryListener) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return l.Listener.Close()
}

func isTransient(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	for _, errno := range []syscall.Errno{syscall.EMFILE, syscall.ENFILE, syscall.ECONNABORTED, syscall.ENOBUFS, syscall.ENOMEM} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
