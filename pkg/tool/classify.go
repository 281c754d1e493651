package tool

import (
	"context"
	"errors"
	"strings"
)

// FailureKind is a coarse classification of a failed capture.
type FailureKind int

const (
	FailureOther FailureKind = iota
	FailureDNS
	FailureTimeout
	FailureConnection
)

func (k FailureKind) String() string {
	switch k {
	case FailureDNS:
		return "dns"
	case FailureTimeout:
		return "timeout"
	case FailureConnection:
		return "connection"
	}
	return "other"
}

// ClassifyFailure looks at the full error chain of err.
func ClassifyFailure(err error) FailureKind {
	switch {
	case err == nil:
		return FailureOther
	case isDNSError(err):
		return FailureDNS
	case isTimeoutError(err):
		return FailureTimeout
	case isConnectionError(err):
		return FailureConnection
	}
	return FailureOther
}

func isDNSError(err error) bool {
	errMessage := getFullErrorMessage(err)
	return strings.Contains(errMessage, "net::ERR_NAME_NOT_RESOLVED") ||
		strings.Contains(errMessage, "no such host")
}

func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errMessage := getFullErrorMessage(err)
	return strings.Contains(errMessage, "context deadline exceeded") ||
		strings.Contains(errMessage, "net::ERR_TIMED_OUT") ||
		strings.Contains(errMessage, "timeout")
}

// isConnectionError reports problems reaching the browser rather than the page.
func isConnectionError(err error) bool {
	errMessage := getFullErrorMessage(err)
	return strings.Contains(errMessage, "start browser session") ||
		strings.Contains(errMessage, "connection refused") ||
		strings.Contains(errMessage, "websocket")
}

// shouldRetryWithHTTP reports whether a failed https:// attempt is worth repeating
// over plain http.
func shouldRetryWithHTTP(err error) bool {
	return ClassifyFailure(err) == FailureOther
}

func getFullErrorMessage(err error) string {
	var sb strings.Builder
	for err != nil {
		sb.WriteString(err.Error())
		err = errors.Unwrap(err)
		if err != nil {
			sb.WriteString(" | ")
		}
	}
	return sb.String()
}
