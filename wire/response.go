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

package wire

import (
	stderrors "errors"
	"fmt"

	"github.com/arvo-run/arvo/errors"
)

// Status tags the outcome variant of a Response.
type Status uint8

const (
	StatusOk Status = iota + 1
	StatusUserErr
	StatusRedirect
	StatusInternalErr
	StatusShuttingDown
	StatusBusy
)

// Code classifies an internal error for the caller's retry decision.
type Code uint8

const (
	CodeUnknownType Code = iota + 1
	CodeUnknownMessage
	CodeActivationFailed
	CodeHandlerPanic
	CodeStoreUnavailable
	CodeNotOwner
	CodeInternal
)

func (c Code) String() string {
	switch c {
	case CodeUnknownType:
		return "UnknownType"
	case CodeUnknownMessage:
		return "UnknownMessage"
	case CodeActivationFailed:
		return "ActivationFailed"
	case CodeHandlerPanic:
		return "HandlerPanic"
	case CodeStoreUnavailable:
		return "StoreUnavailable"
	case CodeNotOwner:
		return "NotOwner"
	default:
		return "Internal"
	}
}

// Retryable reports whether a caller may usefully retry after this code.
func (c Code) Retryable() bool {
	switch c {
	case CodeUnknownType, CodeUnknownMessage, CodeHandlerPanic:
		return false
	default:
		return true
	}
}

// Response is the outcome of a Request, a tagged union keyed by Status.
type Response struct {
	Status Status `msgpack:"status"`
	// Payload holds the handler result for StatusOk and the opaque user
	// error payload for StatusUserErr.
	Payload []byte `msgpack:"payload,omitempty"`
	// ErrMessage carries the display form of a user or internal error.
	ErrMessage string `msgpack:"errmsg,omitempty"`
	// RedirectTo names the node the caller should retry against.
	RedirectTo string `msgpack:"redirect,omitempty"`
	Code       Code   `msgpack:"code,omitempty"`
}

// Ok builds a successful response carrying the handler result.
func Ok(payload []byte) *Response {
	return &Response{Status: StatusOk, Payload: payload}
}

// UserErr builds a response carrying an opaque handler error.
func UserErr(message string, payload []byte) *Response {
	return &Response{Status: StatusUserErr, ErrMessage: message, Payload: payload}
}

// Redirect builds a response telling the caller to retry against addr.
func Redirect(addr string) *Response {
	return &Response{Status: StatusRedirect, RedirectTo: addr}
}

// InternalErr builds a response for a runtime-level failure.
func InternalErr(code Code, message string) *Response {
	return &Response{Status: StatusInternalErr, Code: code, ErrMessage: message}
}

// ShuttingDown builds the response for messages that arrived while the
// target object was draining.
func ShuttingDown() *Response {
	return &Response{Status: StatusShuttingDown}
}

// Busy builds the response for messages rejected by a full mailbox.
func Busy() *Response {
	return &Response{Status: StatusBusy}
}

// FromError maps a dispatch error onto the wire response it should travel
// as. A nil error maps to Ok with the given payload.
func FromError(err error, payload []byte) *Response {
	switch {
	case err == nil:
		return Ok(payload)
	case stderrors.Is(err, errors.ErrUserError):
		return UserErr(err.Error(), payload)
	case stderrors.Is(err, errors.ErrObjectShuttingDown):
		return ShuttingDown()
	case stderrors.Is(err, errors.ErrMailboxFull):
		return Busy()
	case stderrors.Is(err, errors.ErrUnknownType):
		return InternalErr(CodeUnknownType, err.Error())
	case stderrors.Is(err, errors.ErrUnknownMessage):
		return InternalErr(CodeUnknownMessage, err.Error())
	case stderrors.Is(err, errors.ErrActivationFailed):
		return InternalErr(CodeActivationFailed, err.Error())
	case stderrors.Is(err, errors.ErrHandlerPanic):
		return InternalErr(CodeHandlerPanic, err.Error())
	case stderrors.Is(err, errors.ErrStoreUnavailable):
		return InternalErr(CodeStoreUnavailable, err.Error())
	case stderrors.Is(err, errors.ErrNotOwner):
		return InternalErr(CodeNotOwner, err.Error())
	default:
		return InternalErr(CodeInternal, err.Error())
	}
}

// Err maps a response back onto the error taxonomy. Ok responses return nil;
// Redirect returns ErrRedirect so that routing layers can branch on it with
// errors.Is.
func (r *Response) Err() error {
	switch r.Status {
	case StatusOk:
		return nil
	case StatusUserErr:
		return fmt.Errorf("%w: %s", errors.ErrUserError, r.ErrMessage)
	case StatusRedirect:
		return fmt.Errorf("%w: %s", errors.ErrRedirect, r.RedirectTo)
	case StatusShuttingDown:
		return errors.ErrObjectShuttingDown
	case StatusBusy:
		return errors.ErrMailboxFull
	case StatusInternalErr:
		switch r.Code {
		case CodeUnknownType:
			return fmt.Errorf("%w: %s", errors.ErrUnknownType, r.ErrMessage)
		case CodeUnknownMessage:
			return fmt.Errorf("%w: %s", errors.ErrUnknownMessage, r.ErrMessage)
		case CodeActivationFailed:
			return fmt.Errorf("%w: %s", errors.ErrActivationFailed, r.ErrMessage)
		case CodeHandlerPanic:
			return fmt.Errorf("%w: %s", errors.ErrHandlerPanic, r.ErrMessage)
		case CodeStoreUnavailable:
			return fmt.Errorf("%w: %s", errors.ErrStoreUnavailable, r.ErrMessage)
		case CodeNotOwner:
			return fmt.Errorf("%w: %s", errors.ErrNotOwner, r.ErrMessage)
		default:
			return fmt.Errorf("internal error: %s", r.ErrMessage)
		}
	default:
		return fmt.Errorf("unknown response status %d", r.Status)
	}
}
