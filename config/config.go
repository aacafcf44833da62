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

// Package config defines the runtime's tunable knobs and the
// functional-options constructor used to build a Config over sane defaults.
package config

import (
	"errors"
	"time"

	"github.com/arvo-run/arvo/log"
)

var (
	ErrNameRequired    = errors.New("node name is required")
	ErrListenAddrEmpty = errors.New("listen address is required")
)

// Backoff describes the client's exponential-backoff parameters. The client
// builds its retry delays from Base and Cap; it does not read Jitter.
type Backoff struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter float64 // fraction, e.g. 0.2 for ±20%
}

// Config holds every core-visible knob of the runtime.
type Config struct {
	// Name identifies this node in logs and metrics; it need not be unique
	// cluster-wide (the listen address is the real identity).
	Name string
	// ListenAddress is the "host:port" this node's server binds.
	ListenAddress string
	Logger        log.Logger

	HeartbeatInterval time.Duration
	ProbeInterval     time.Duration
	ProbeFanout       int
	FailureThreshold  int
	FailureWindow     time.Duration

	MailboxCapacity int           // <=0 means unbounded
	IdleTTL         time.Duration // <=0 disables idle passivation

	ConnectionPoolSize int

	ClientRetryBudget    int
	ClientRedirectBudget int
	ClientBackoff        Backoff

	// ServerProxyRedirectBudget bounds internal server-to-server proxy
	// redirect chains; it is not client-visible.
	ServerProxyRedirectBudget int

	PlacementCacheSize int
}

// New builds a Config for the named node listening on listenAddress, applying
// options over the defaults below.
func New(name, listenAddress string, opts ...Option) (*Config, error) {
	if name == "" {
		return nil, ErrNameRequired
	}
	if listenAddress == "" {
		return nil, ErrListenAddrEmpty
	}

	cfg := &Config{
		Name:          name,
		ListenAddress: listenAddress,
		Logger:        log.DefaultLogger,

		HeartbeatInterval: 1 * time.Second,
		ProbeInterval:     5 * time.Second,
		ProbeFanout:       3,
		FailureThreshold:  3,
		FailureWindow:     30 * time.Second,

		MailboxCapacity: 0,
		IdleTTL:         0,

		ConnectionPoolSize: 8,

		ClientRetryBudget:    5,
		ClientRedirectBudget: 3,
		ClientBackoff: Backoff{
			Base:   50 * time.Millisecond,
			Cap:    5 * time.Second,
			Jitter: 0.2,
		},

		ServerProxyRedirectBudget: 3,
		PlacementCacheSize:        4096,
	}

	for _, opt := range opts {
		opt.apply(cfg)
	}

	return cfg, nil
}
