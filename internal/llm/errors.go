package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrEmptyResponse is returned when the provider answers with no content.
var ErrEmptyResponse = errors.New("empty response from model")

// ErrorCode classifies why a completion call gave up.
type ErrorCode string

const (
	// RetriesExhausted indicates every attempt failed with a transient error
	RetriesExhausted ErrorCode = "RETRIES_EXHAUSTED"
	// Terminal indicates a failure that retrying cannot fix (auth, bad request)
	Terminal ErrorCode = "TERMINAL"
	// Canceled indicates the caller's context ended while waiting or calling
	Canceled ErrorCode = "CANCELED"
)

// ClientError is the typed error returned by Client.Send.
type ClientError struct {
	Code     ErrorCode
	Attempts int
	cause    error
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("completion failed (%s) after %d attempt(s): %v", e.Code, e.Attempts, e.cause)
}

func (e *ClientError) Unwrap() error {
	return e.cause
}

func newClientError(code ErrorCode, attempts int, cause error) *ClientError {
	return &ClientError{Code: code, Attempts: attempts, cause: cause}
}

// statusCodeRe matches a client-error status only as a whole token, either
// at the start of the message, after "status"/"status code", or after the
// ": " that SDKs put between the request URL and the response status.
var statusCodeRe = regexp.MustCompile(`(?:^|status(?:\s*code)?\s*[:=]?\s*|":\s*)(40[0134])\b`)

var transientMarkers = []string{
	"rate limit",
	"429",
	"too many requests",
	"timeout",
	"timed out",
	"connection",
	"temporary",
	"unavailable",
	"overloaded",
}

var terminalMarkers = []string{
	"unauthorized",
	"forbidden",
	"invalid api key",
	"permission denied",
	"bad request",
	"model not found",
	"context length",
}

// isTerminalError reports errors that will fail the same way on retry.
// Transient markers win, so anything that looks like a rate limit or a
// network failure is retried even when it carries other numbers.
func isTerminalError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	errStr := strings.ToLower(err.Error())

	if isTransientError(errStr) {
		return false
	}
	if statusCodeRe.MatchString(errStr) {
		return true
	}
	for _, m := range terminalMarkers {
		if strings.Contains(errStr, m) {
			return true
		}
	}
	return false
}

func isTransientError(errStr string) bool {
	for _, m := range transientMarkers {
		if strings.Contains(errStr, m) {
			return true
		}
	}
	return false
}
