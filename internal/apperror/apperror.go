package apperror

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind categorizes an error by how the caller should react to it.
type Kind string

const (
	// KindInternal is an unexpected invariant violation. Logged, not retried.
	KindInternal Kind = "internal"
	// KindResourceUnavailable is transient: missing subscription, network hiccup, lock timeout.
	KindResourceUnavailable Kind = "resource_unavailable"
	// KindTryAgainLater asks the caller to back off before retrying.
	KindTryAgainLater Kind = "try_again_later"
	// KindInvalidRequest is a caller error.
	KindInvalidRequest Kind = "invalid_request"
)

// Error is a kinded error surfaced to controller callers.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so sentinel comparisons work
// regardless of message.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Message == "" && other.Err == nil && other.Kind == e.Kind
}

// Sentinels for errors.Is checks by kind.
var (
	ErrInternal            = &Error{Kind: KindInternal}
	ErrResourceUnavailable = &Error{Kind: KindResourceUnavailable}
	ErrTryAgainLater       = &Error{Kind: KindTryAgainLater}
	ErrInvalidRequest      = &Error{Kind: KindInvalidRequest}
)

func Internal(msg string, err error) error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

func ResourceUnavailable(msg string, err error) error {
	return &Error{Kind: KindResourceUnavailable, Message: msg, Err: err}
}

func TryAgainLater(msg string, err error) error {
	return &Error{Kind: KindTryAgainLater, Message: msg, Err: err}
}

func InvalidRequest(msg string, err error) error {
	return &Error{Kind: KindInvalidRequest, Message: msg, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindInternal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Class tells whether a transport failure is worth retrying.
type Class string

const (
	ClassTerminal  Class = "terminal"
	ClassTransient Class = "transient"
)

// Decision is the result of Classify.
type Decision struct {
	Class  Class
	Reason string
}

func (d Decision) IsTransient() bool {
	return d.Class == ClassTransient
}

// Classify labels a transport error as transient or terminal.
func Classify(err error) Decision {
	if err == nil {
		return Decision{Class: ClassTerminal, Reason: "nil_error"}
	}

	var kinded *Error
	if errors.As(err, &kinded) {
		switch kinded.Kind {
		case KindResourceUnavailable, KindTryAgainLater:
			return Decision{Class: ClassTransient, Reason: "kind_" + string(kinded.Kind)}
		case KindInvalidRequest:
			return Decision{Class: ClassTerminal, Reason: "kind_" + string(kinded.Kind)}
		}
	}

	if errors.Is(err, context.Canceled) {
		return Decision{Class: ClassTerminal, Reason: "context_canceled"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Decision{Class: ClassTransient, Reason: "context_deadline_exceeded"}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Decision{Class: ClassTransient, Reason: "net_timeout"}
	}

	lower := strings.ToLower(err.Error())
	if containsAny(lower, terminalMessageTokens) {
		return Decision{Class: ClassTerminal, Reason: "message_terminal"}
	}
	if containsAny(lower, transientMessageTokens) {
		return Decision{Class: ClassTransient, Reason: "message_transient"}
	}

	return Decision{Class: ClassTerminal, Reason: "unknown_terminal_default"}
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}

var transientMessageTokens = []string{
	"timeout",
	"timed out",
	"temporar",
	"unavailable",
	"connection reset",
	"connection refused",
	"broken pipe",
	"no active connections",
	"too many requests",
	"rate limit",
	"circuit breaker is open",
	"block is not applied",
	"not ready",
}

var terminalMessageTokens = []string{
	"invalid argument",
	"cannot parse",
	"failed to parse",
	"not supported",
	"insufficient funds",
}
