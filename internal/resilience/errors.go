package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// IsTransient reports whether err is worth retrying: request timeouts,
// broken connections, database failover codes, and upstream overload
// responses. Context cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientPgCode(pgErr.Code)
	}
	if pgconn.SafeToRetry(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	// Wrapped HTTP client errors lose their type, so fall back to
	// message patterns.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"rate limit",
		"too many requests",
		"overloaded",
		"bad gateway",
		"service unavailable",
		"gateway timeout",
		"internal server error",
		"connection reset",
		"broken pipe",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// transientPgCode matches SQLSTATEs that clear up on reconnect or retry:
// connection failures (class 08), serialization failures, deadlocks, and
// admin-initiated shutdowns.
func transientPgCode(code string) bool {
	if strings.HasPrefix(code, "08") {
		return true
	}
	switch code {
	case "40001", "40P01", "57P01", "57P02", "57P03":
		return true
	}
	return false
}
