package deploy

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// BuildError means the production build itself failed. It is always
// fatal: shipping a stale or partial bundle is worse than failing.
type BuildError struct {
	Output string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build failed: %s", firstLine(e.Output))
}

// TransientError marks a transport failure worth retrying or falling
// back from. It never wraps build failures.
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient transport failure: %v", e.Cause)
}

func (e *TransientError) Unwrap() error { return e.Cause }

// isTransient classifies transport errors structurally: connection
// resets, timeouts, and truncated responses. HTTP-level 5xx handling
// lives in the uploader, which wraps qualifying statuses itself.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	return false
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
