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
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arvo-run/arvo/errors"
)

func TestFrameRoundTrip(t *testing.T) {
	frames := []*Frame{
		{
			RequestID: 42,
			Kind:      KindRequest,
			Request: &Request{
				TypeName:    "Counter",
				ID:          "x",
				MessageType: "Increment",
				Payload:     []byte{0x1, 0x2},
				FromNode:    true,
			},
		},
		{
			RequestID: 42,
			Kind:      KindResponse,
			Response:  Ok([]byte("result")),
		},
		{RequestID: 7, Kind: KindPing},
		{RequestID: 7, Kind: KindPong},
		{
			Kind:    KindPublish,
			Publish: &Publish{Subject: "chat", Payload: []byte("hello"), Forwarded: true},
		},
		{
			Kind:      KindSubscribe,
			Subscribe: &Subscribe{Subject: "chat"},
		},
		{
			Kind:     KindShutdown,
			Shutdown: &Shutdown{TypeName: "Counter", ID: "x"},
		},
	}

	var buf bytes.Buffer
	for _, frame := range frames {
		require.NoError(t, WriteFrame(&buf, frame))
	}
	for _, want := range frames {
		got, err := ReadFrame(&buf)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestReadFrameRejectsOversized(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff})
	_, err := ReadFrame(&buf)
	require.Error(t, err)
}

func TestResponseErrorMapping(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		status   Status
		code     Code
		sentinel error
	}{
		{name: "shutting down", err: errors.ErrObjectShuttingDown, status: StatusShuttingDown, sentinel: errors.ErrObjectShuttingDown},
		{name: "busy", err: errors.ErrMailboxFull, status: StatusBusy, sentinel: errors.ErrMailboxFull},
		{name: "unknown type", err: errors.NewUnknownType("Nope"), status: StatusInternalErr, code: CodeUnknownType, sentinel: errors.ErrUnknownType},
		{name: "unknown message", err: errors.NewUnknownMessage("Counter", "Nope"), status: StatusInternalErr, code: CodeUnknownMessage, sentinel: errors.ErrUnknownMessage},
		{name: "activation failed", err: errors.NewActivationFailed("Counter/x", errors.ErrStoreUnavailable), status: StatusInternalErr, code: CodeActivationFailed, sentinel: errors.ErrActivationFailed},
		{name: "handler panic", err: errors.NewHandlerPanic("boom"), status: StatusInternalErr, code: CodeHandlerPanic, sentinel: errors.ErrHandlerPanic},
		{name: "store unavailable", err: errors.NewStoreUnavailable("placement", errors.ErrClosed), status: StatusInternalErr, code: CodeStoreUnavailable, sentinel: errors.ErrStoreUnavailable},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res := FromError(tc.err, nil)
			assert.Equal(t, tc.status, res.Status)
			if tc.code != 0 {
				assert.Equal(t, tc.code, res.Code)
			}
			assert.ErrorIs(t, res.Err(), tc.sentinel)
		})
	}
}

func TestFromErrorNil(t *testing.T) {
	res := FromError(nil, []byte("payload"))
	assert.Equal(t, StatusOk, res.Status)
	assert.Equal(t, []byte("payload"), res.Payload)
	assert.NoError(t, res.Err())
}

func TestRedirectResponse(t *testing.T) {
	res := Redirect("127.0.0.1:9000")
	assert.Equal(t, "127.0.0.1:9000", res.RedirectTo)
	assert.ErrorIs(t, res.Err(), errors.ErrRedirect)
}

func TestCodeRetryable(t *testing.T) {
	assert.False(t, CodeUnknownType.Retryable())
	assert.False(t, CodeUnknownMessage.Retryable())
	assert.False(t, CodeHandlerPanic.Retryable())
	assert.True(t, CodeActivationFailed.Retryable())
	assert.True(t, CodeStoreUnavailable.Retryable())
	assert.True(t, CodeNotOwner.Retryable())
}
