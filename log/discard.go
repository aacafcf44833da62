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

package log

// DiscardLogger is a no-op Logger, useful in tests and for library embedders
// that don't want runtime log output.
var DiscardLogger Logger = discardLogger{}

type discardLogger struct{}

func (discardLogger) Debug(v ...any)                 {}
func (discardLogger) Debugf(format string, v ...any) {}
func (discardLogger) Info(v ...any)                  {}
func (discardLogger) Infof(format string, v ...any)  {}
func (discardLogger) Warn(v ...any)                  {}
func (discardLogger) Warnf(format string, v ...any)  {}
func (discardLogger) Error(v ...any)                 {}
func (discardLogger) Errorf(format string, v ...any) {}
func (discardLogger) Fatal(v ...any)                 {}
func (discardLogger) Fatalf(format string, v ...any) {}
func (discardLogger) With(keyValues ...any) Logger   { return discardLogger{} }
