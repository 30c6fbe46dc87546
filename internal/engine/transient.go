package engine

import (
	"context"
	"errors"
	"io"
	"net"
)

// IsTransient reports whether err is worth retrying: rate limits, server
// errors, network failures and truncated responses. Parse errors,
// cancellation and client errors are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrParse) {
		return false
	}

	// net.Error also carries a Temporary method, so check it first.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var status interface{ Temporary() bool }
	if errors.As(err, &status) {
		return status.Temporary()
	}

	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded)
}
