package errors

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// IsRetryable reports whether the operation that produced err may be retried.
// An explicit Retryable flag wins; otherwise the error is classified with the
// network and timeout heuristics used for LLM and HTTP transports.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var de *DomainError
	if errors.As(err, &de) {
		if de.Retryable {
			return true
		}
		switch de.Kind {
		case KindTimeout, KindRepositoryUnavailable:
			return true
		case KindCancelled, KindValidation, KindInvalidTransition,
			KindQuotaExceeded, KindInvalidRequest, KindInvalidContext:
			return false
		}
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if isNetworkError(err) {
		return true
	}
	return false
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{
		"connection refused",
		"connection reset",
		"no such host",
		"i/o timeout",
		"tls handshake timeout",
	} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
