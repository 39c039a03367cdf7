// Package reliability maps stream failures onto a small, stable set of
// reasons used for metric labels and logs.
package reliability

import (
	"context"
	"errors"
	"net"
)

const (
	ReasonNone        = "none"
	ReasonCanceled    = "canceled"
	ReasonTimeout     = "timeout"
	ReasonRateLimited = "rate_limited"
	ReasonUpstream    = "upstream_5xx"
	ReasonRejected    = "client_4xx"
	ReasonNetwork     = "network"
	ReasonOther       = "other"
)

// statusCoder is satisfied by typed HTTP status errors such as chatapi.StatusError.
type statusCoder interface {
	HTTPStatus() int
}

// ClassifyFailure returns a bounded label for err.
func ClassifyFailure(err error) string {
	if err == nil {
		return ReasonNone
	}
	if errors.Is(err, context.Canceled) {
		return ReasonCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		return classifyHTTPStatus(sc.HTTPStatus())
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ReasonTimeout
		}
		return ReasonNetwork
	}
	return ReasonOther
}

func classifyHTTPStatus(code int) string {
	switch {
	case code == 429:
		return ReasonRateLimited
	case code >= 500:
		return ReasonUpstream
	case code >= 400:
		return ReasonRejected
	default:
		return ReasonOther
	}
}

// IsTransient reports whether the failure would likely succeed on a later
// attempt. The widget never retries on its own; this only feeds the error hint.
func IsTransient(reason string) bool {
	switch reason {
	case ReasonTimeout, ReasonRateLimited, ReasonUpstream, ReasonNetwork:
		return true
	default:
		return false
	}
}
