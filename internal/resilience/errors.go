// Package resilience retries World Bank requests and the Postgres startup
// ping, and decides which failures are worth another attempt.
package resilience

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// RetryableError marks a failure as safe to try again. Status is the HTTP
// status that caused it, or 0 for non-HTTP failures. RetryAfter, when set,
// is the server's requested wait before the next attempt.
type RetryableError struct {
	Err        error
	Status     int
	RetryAfter time.Duration
}

func (e *RetryableError) Error() string { return e.Err.Error() }

func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err as a RetryableError.
func Retryable(err error, status int) *RetryableError {
	return &RetryableError{Err: err, Status: status}
}

// Message fragments seen on flaky links and on a Postgres server that is
// still booting or failing over.
var (
	networkFragments = []string{
		"connection reset by peer",
		"broken pipe",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"temporary failure in name resolution",
		"unexpected eof",
	}
	postgresFragments = []string{
		"the database system is starting up",
		"the database system is shutting down",
		"too many clients already",
	}
)

// Temporary reports whether any error in err's chain is likely to clear up on
// its own.
func Temporary(err error) bool {
	if err == nil {
		return false
	}

	var re *RetryableError
	if errors.As(err, &re) {
		return true
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	for _, errno := range []syscall.Errno{syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED} {
		if errors.Is(err, errno) {
			return true
		}
	}

	var ce *pgconn.ConnectError
	if errors.As(err, &ce) || pgconn.SafeToRetry(err) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return containsAny(msg, networkFragments) || containsAny(msg, postgresFragments)
}

func containsAny(s string, fragments []string) bool {
	for _, f := range fragments {
		if strings.Contains(s, f) {
			return true
		}
	}
	return false
}

// RetryableStatus reports whether an HTTP response status is worth retrying:
// request timeouts, throttling and gateway or server failures. 501 is
// permanent.
func RetryableStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code == http.StatusNotImplemented:
		return false
	default:
		return code >= 500 && code <= 599
	}
}

// ParseRetryAfter reads a Retry-After header in either delta-seconds or
// HTTP-date form. Missing, malformed and past values yield 0.
func ParseRetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(max(secs, 0)) * time.Second
	}
	at, err := http.ParseTime(header)
	if err != nil {
		return 0
	}
	return max(at.Sub(now), 0)
}
