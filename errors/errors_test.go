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

package errors_test

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arvo-run/arvo/errors"
)

func TestNewUserErrorIsClassifiable(t *testing.T) {
	base := stderrors.New("insufficient funds")
	wrapped := errors.NewUserError(base)
	assert.ErrorIs(t, wrapped, errors.ErrUserError)
	assert.ErrorIs(t, wrapped, base)
}

func TestNewActivationFailedWrapsSentinel(t *testing.T) {
	err := errors.NewActivationFailed("Counter/x", stderrors.New("boom"))
	assert.ErrorIs(t, err, errors.ErrActivationFailed)
}

func TestPanicErrorMessage(t *testing.T) {
	err := errors.NewPanicError("kaboom")
	assert.Equal(t, "panic: kaboom", err.Error())
}
