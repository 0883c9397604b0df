package provider

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/novaos/backend/internal/core"
	"github.com/novaos/backend/internal/redact"
)

// ClassifyHTTPStatus collapses an upstream HTTP status into the stable
// error-code taxonomy with its retryable flag.
func ClassifyHTTPStatus(status int, retryAfter string) *core.ProviderFailure {
	f := &core.ProviderFailure{}

	switch {
	case status == http.StatusTooManyRequests:
		f.Code = core.ErrRateLimited
		f.Message = "provider rate limit exceeded"
		f.Retryable = true
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		f.Code = core.ErrUnauthorized
		f.Message = "provider rejected credentials"
		f.Retryable = false
	case status == http.StatusNotFound:
		f.Code = core.ErrSymbolNotFound
		f.Message = "symbol not found"
		f.Retryable = false
	case status >= 500:
		f.Code = core.ErrHTTP5xx
		f.Message = "provider server error: " + strconv.Itoa(status)
		f.Retryable = true
	case status >= 400:
		f.Code = core.ErrHTTP4xx
		f.Message = "provider client error: " + strconv.Itoa(status)
		f.Retryable = false
	default:
		f.Code = core.ErrFetch
		f.Message = "unexpected provider status: " + strconv.Itoa(status)
		f.Retryable = false
	}

	if retryAfter != "" {
		if sec, err := strconv.Atoi(retryAfter); err == nil && sec > 0 {
			f.RetryAfterSec = sec
		}
	}
	return f
}

// ClassifyTransportErr maps a transport-level error to the taxonomy.
// Context expiry becomes TIMEOUT; everything else is FETCH_ERROR.
func ClassifyTransportErr(err error) *core.ProviderFailure {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &core.ProviderFailure{
			Code:      core.ErrTimeout,
			Message:   "provider call timed out",
			Retryable: true,
		}
	}
	return &core.ProviderFailure{
		Code:      core.ErrFetch,
		Message:   redact.Error(err),
		Retryable: true,
	}
}

// InvalidSymbolFailure is returned when a provider reports the queried
// symbol as malformed rather than merely unknown.
func InvalidSymbolFailure(symbol string) *core.ProviderFailure {
	return &core.ProviderFailure{
		Code:      core.ErrInvalidSymbol,
		Message:   "invalid symbol: " + symbol,
		Retryable: false,
	}
}
