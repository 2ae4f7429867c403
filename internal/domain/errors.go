// ABOUTME: Error classification shared by the relay and the client
// ABOUTME: Separates ordinary connection endings from faults worth a warning
package domain

import (
	"context"
	"errors"
	"io"
	"net"
)

// IsExpectedClose reports whether err is an ordinary end of a connection:
// a clean peer close, a local Close, or cancellation.
func IsExpectedClose(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.Canceled)
}
