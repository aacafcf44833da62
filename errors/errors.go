// MIT License
//
// Copyright (c) 2023-2026 Arvo Authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package errors holds the sentinel error taxonomy of the runtime so that
// callers can classify a failure with errors.Is instead of string matching.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrUserError wraps an opaque, handler-produced error that must be
	// propagated verbatim to the caller.
	ErrUserError = errors.New("user error")

	// ErrObjectShuttingDown is returned for messages that arrive while an
	// object is draining. It is transient: a retry triggers re-activation.
	ErrObjectShuttingDown = errors.New("object is shutting down")

	// ErrRedirect is not an error in the retry sense: it is a routing hint
	// the client re-targets against, never retried as a failure.
	ErrRedirect = errors.New("redirect to another node")

	// ErrActivationFailed indicates a life-cycle hook panicked or returned an
	// error during activation; the placement row has been released so a
	// subsequent call reactivates elsewhere.
	ErrActivationFailed = errors.New("activation failed")

	// ErrUnknownType indicates the registry has no factory for the requested
	// type name. Non-retryable.
	ErrUnknownType = errors.New("unknown service object type")

	// ErrUnknownMessage indicates the registry has no dispatcher for the
	// requested (type, message) pair. Non-retryable.
	ErrUnknownMessage = errors.New("unknown message type")

	// ErrHandlerPanic indicates a handler invocation panicked. The object
	// survives; only the in-flight message fails.
	ErrHandlerPanic = errors.New("handler panicked")

	// ErrStoreUnavailable indicates an external store (membership, placement,
	// or state) failed to respond within its own retry budget. Transient.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrConnectionLost indicates a client-observed connection failure
	// mid-request. Transient.
	ErrConnectionLost = errors.New("connection lost")

	// ErrTooManyRedirects indicates the client exhausted its redirect budget.
	ErrTooManyRedirects = errors.New("too many redirects")

	// ErrTooManyRetries indicates the client exhausted its retry budget.
	ErrTooManyRetries = errors.New("too many retries")

	// ErrMailboxFull indicates a bounded mailbox rejected an enqueue.
	ErrMailboxFull = errors.New("mailbox is full")

	// ErrMailboxClosed indicates an operation was attempted against a closed
	// mailbox.
	ErrMailboxClosed = errors.New("mailbox is closed")

	// ErrNotOwner indicates a node attempted to dispatch to an object it does
	// not hold the placement row for.
	ErrNotOwner = errors.New("node does not own this object's placement")

	// ErrNoActiveNodes indicates the membership protocol has no active peers
	// to place an object on.
	ErrNoActiveNodes = errors.New("no active nodes available")

	// ErrSelfDeactivated indicates a node could not write its own heartbeat
	// for at least the failure window and has stopped accepting requests.
	ErrSelfDeactivated = errors.New("node self-deactivated: heartbeat store unreachable")

	// ErrClosed indicates an operation was attempted on a component that has
	// already been shut down.
	ErrClosed = errors.New("component is closed")
)

// NewUserError wraps an opaque handler error so callers can classify it with
// errors.Is(err, ErrUserError) while still seeing the original message.
func NewUserError(err error) error {
	return fmt.Errorf("%w: %w", ErrUserError, err)
}

// NewActivationFailed wraps the underlying activation failure (a panic turned
// into an error, or a hook's own error) with ErrActivationFailed.
func NewActivationFailed(identity string, err error) error {
	return fmt.Errorf("activation failed for %s: %w: %w", identity, ErrActivationFailed, err)
}

// NewHandlerPanic wraps a recovered panic value with ErrHandlerPanic.
func NewHandlerPanic(recovered any) error {
	return fmt.Errorf("%w: %v", ErrHandlerPanic, recovered)
}

// NewStoreUnavailable wraps a store-layer error with ErrStoreUnavailable.
func NewStoreUnavailable(store string, err error) error {
	return fmt.Errorf("%s: %w: %w", store, ErrStoreUnavailable, err)
}

// NewConnectionLost wraps a transport failure against addr with
// ErrConnectionLost. err may be nil when the connection closed cleanly
// under a pending request.
func NewConnectionLost(addr string, err error) error {
	if err == nil {
		return fmt.Errorf("peer=%s: %w", addr, ErrConnectionLost)
	}
	return fmt.Errorf("peer=%s: %w: %w", addr, ErrConnectionLost, err)
}

// NewUnknownType formats ErrUnknownType with the offending type name.
func NewUnknownType(typeName string) error {
	return fmt.Errorf("type=%q: %w", typeName, ErrUnknownType)
}

// NewUnknownMessage formats ErrUnknownMessage with the offending type/message pair.
func NewUnknownMessage(typeName, messageKind string) error {
	return fmt.Errorf("type=%q message=%q: %w", typeName, messageKind, ErrUnknownMessage)
}

// PanicError wraps a recovered panic value as an error. The original value
// stays available in the Value field.
type PanicError struct {
	Value any
}

var _ error = (*PanicError)(nil)

// NewPanicError creates a PanicError from a recovered value.
func NewPanicError(value any) *PanicError {
	return &PanicError{Value: value}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}
