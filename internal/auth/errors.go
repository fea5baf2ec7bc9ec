package auth

import (
	"errors"
	"fmt"
)

// Kind classifies authentication failures.
type Kind int

const (
	KindInvalidCredentials Kind = iota
	KindChallengeRequired
	KindProtocolMismatch
)

func (k Kind) String() string {
	switch k {
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindChallengeRequired:
		return "challenge_required"
	case KindProtocolMismatch:
		return "protocol_mismatch"
	}
	return "unknown"
}

// Error is an authentication failure attributed to a login strategy.
type Error struct {
	Kind     Kind
	Strategy string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth %s (%s): %v", e.Kind, e.Strategy, e.Err)
	}
	return fmt.Sprintf("auth %s (%s)", e.Kind, e.Strategy)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is an auth Error of the given kind.
func IsKind(err error, k Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == k
}

// ErrInvalidated is terminal: the manager stops retrying after the
// configured run of consecutive full login failures so the operator is
// not silently locked out by repeated bad attempts.
var ErrInvalidated = errors.New("auth: invalidated after repeated login failures")
