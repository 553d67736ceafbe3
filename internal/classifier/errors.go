package classifier

import (
	"fmt"
	"time"
)

// Kind categorizes a classification failure at the API boundary.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindRateLimited Kind = "rate_limited"
	KindTransient   Kind = "transient_io" // network error or 5xx
	KindMalformed   Kind = "malformed"
	KindAuth        Kind = "auth"
)

// Error is a typed classification failure. Timeout, rate-limit, and
// transient-IO kinds are retried with backoff; malformed and auth are
// permanent and surface immediately.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration // server-requested delay, when provided
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("classifier %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("classifier %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether retrying can help.
func (e *Error) Transient() bool {
	switch e.Kind {
	case KindTimeout, KindRateLimited, KindTransient:
		return true
	}
	return false
}
