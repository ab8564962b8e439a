package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConfiguration = errors.New("configuration error")
	ErrNotListed     = errors.New("symbol not listed")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrMalformed     = errors.New("malformed response")
	ErrDegraded      = errors.New("exchange degraded")
	ErrLockHeld      = errors.New("lock already held")
)

// FetchKind separates failures worth retrying from failures that will not go
// away on their own.
type FetchKind int

const (
	FetchTransient FetchKind = iota
	FetchPermanent
)

func (k FetchKind) String() string {
	if k == FetchPermanent {
		return "permanent"
	}
	return "transient"
}

// FetchError is returned by adapters for any failed market-data call.
type FetchError struct {
	Exchange   ExchangeID
	Op         string
	Kind       FetchKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: %s failure (status %d): %v", e.Exchange, e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %s failure: %v", e.Exchange, e.Op, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable fetch failure.
func Transient(exchange ExchangeID, op string, err error) *FetchError {
	return &FetchError{Exchange: exchange, Op: op, Kind: FetchTransient, Err: err}
}

// Permanent wraps err as a non-retryable fetch failure.
func Permanent(exchange ExchangeID, op string, err error) *FetchError {
	return &FetchError{Exchange: exchange, Op: op, Kind: FetchPermanent, Err: err}
}

// IsTransient reports whether err should be retried. Errors that are not
// FetchErrors (network errors, timeouts surfaced by the HTTP client) are
// treated as transient; ErrNotListed never is.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrNotListed) {
		return false
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind == FetchTransient
	}
	return true
}

// IsPermanent reports whether err is a FetchError of kind FetchPermanent.
func IsPermanent(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == FetchPermanent
}
