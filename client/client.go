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

package client

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/flowchartsman/retry"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/arvo-run/arvo/config"
	"github.com/arvo-run/arvo/errors"
	"github.com/arvo-run/arvo/log"
	"github.com/arvo-run/arvo/membership"
	"github.com/arvo-run/arvo/wire"
)

// Client delivers typed calls to service objects from outside the cluster.
// It consults membership for candidate nodes, caches placements locally,
// follows redirects within a bounded budget, and retries transient
// failures with exponential backoff. A Client is safe for concurrent use.
type Client struct {
	remoting *Remoting
	logger   log.Logger

	members membership.Storage
	seeds   []string

	cache *lru.Cache[string, string]

	retryBudget    int
	redirectBudget int
	backoff        config.Backoff

	// fromNode marks requests as node-originated: a misrouted request is
	// then proxied by the receiving node instead of redirected back.
	fromNode bool
}

// New creates a Client. At least one of WithSeeds or WithMembership must
// supply candidate nodes.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		logger:         log.DefaultLogger,
		retryBudget:    5,
		redirectBudget: 3,
		backoff: config.Backoff{
			Base:   50 * time.Millisecond,
			Cap:    5 * time.Second,
			Jitter: 0.2,
		},
	}
	poolSize := 8
	for _, opt := range opts {
		opt(c, &poolSize)
	}
	if c.members == nil && len(c.seeds) == 0 {
		return nil, fmt.Errorf("client: no seed nodes and no membership storage configured")
	}
	if c.remoting == nil {
		c.remoting = NewRemoting(poolSize, c.logger)
	}

	cache, err := lru.New[string, string](1024)
	if err != nil {
		return nil, err
	}
	c.cache = cache
	return c, nil
}

// Close releases every pooled connection.
func (c *Client) Close() {
	c.remoting.Close()
}

// Send delivers one message to (typeName, id) and returns the handler's
// encoded result. Transient failures (connection loss, shutting-down
// targets, retryable internal errors) are retried up to the retry budget
// with exponential backoff; redirects re-target without counting as
// retries, bounded by the redirect budget.
func (c *Client) Send(ctx context.Context, typeName, id, messageType string, payload []byte) ([]byte, error) {
	var result []byte
	retrier := retry.NewRetrier(c.retryBudget, c.backoff.Base, c.backoff.Cap)
	err := retrier.RunContext(ctx, func(ctx context.Context) error {
		res, err := c.attempt(ctx, typeName, id, messageType, payload)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		if stderrors.Is(err, errors.ErrConnectionLost) || stderrors.Is(err, errors.ErrObjectShuttingDown) || stderrors.Is(err, errors.ErrStoreUnavailable) || stderrors.Is(err, errors.ErrMailboxFull) {
			return nil, fmt.Errorf("%w: %w", errors.ErrTooManyRetries, err)
		}
		return nil, err
	}
	return result, nil
}

// attempt performs one routed delivery: pick a candidate address, send,
// and chase redirects up to the redirect budget.
func (c *Client) attempt(ctx context.Context, typeName, id, messageType string, payload []byte) ([]byte, error) {
	key := placementKey(typeName, id)
	addr, cached := c.cache.Get(key)
	if !cached {
		var err error
		if addr, err = c.pickNode(ctx); err != nil {
			return nil, err
		}
	}

	req := &wire.Request{TypeName: typeName, ID: id, MessageType: messageType, Payload: payload, FromNode: c.fromNode}
	for redirects := 0; ; redirects++ {
		res, err := c.remoting.Request(ctx, addr, req)
		if err != nil {
			c.cache.Remove(key)
			return nil, err
		}

		switch res.Status {
		case wire.StatusOk:
			c.cache.Add(key, addr)
			return res.Payload, nil
		case wire.StatusUserErr:
			c.cache.Add(key, addr)
			return nil, retry.Stop(fmt.Errorf("%w: %s", errors.ErrUserError, res.ErrMessage))
		case wire.StatusRedirect:
			c.cache.Remove(key)
			if redirects >= c.redirectBudget {
				return nil, retry.Stop(fmt.Errorf("%w: after %d hops", errors.ErrTooManyRedirects, redirects))
			}
			addr = res.RedirectTo
			c.cache.Add(key, addr)
		case wire.StatusShuttingDown:
			c.cache.Remove(key)
			return nil, errors.ErrObjectShuttingDown
		case wire.StatusBusy:
			return nil, errors.ErrMailboxFull
		default:
			err := res.Err()
			if res.Status == wire.StatusInternalErr && !res.Code.Retryable() {
				return nil, retry.Stop(err)
			}
			c.cache.Remove(key)
			return nil, err
		}
	}
}

// pickNode returns a uniformly random active node.
func (c *Client) pickNode(ctx context.Context) (string, error) {
	if c.members != nil {
		entries, err := c.members.ListActive(ctx)
		if err != nil {
			return "", errors.NewStoreUnavailable("membership", err)
		}
		if len(entries) > 0 {
			return entries[rand.Intn(len(entries))].Address.String(), nil
		}
		if len(c.seeds) == 0 {
			return "", retry.Stop(errors.ErrNoActiveNodes)
		}
	}
	return c.seeds[rand.Intn(len(c.seeds))], nil
}

// Publish sends a payload on a subject through any active node.
func (c *Client) Publish(ctx context.Context, subject string, payload []byte) error {
	addr, err := c.pickNode(ctx)
	if err != nil {
		return err
	}
	return c.remoting.PublishTo(ctx, addr, subject, payload, false)
}

// Subscribe streams publishes on subject from any active node. The
// returned channel drops deliveries when full.
func (c *Client) Subscribe(ctx context.Context, subject string) (<-chan []byte, error) {
	addr, err := c.pickNode(ctx)
	if err != nil {
		return nil, err
	}
	return c.remoting.Subscribe(ctx, addr, subject)
}

func placementKey(typeName, id string) string {
	return fmt.Sprintf("%s/%s", typeName, id)
}

// Call sends a typed message and decodes the typed response, using the
// same msgpack encoding handlers are registered with.
func Call[M any, R any](ctx context.Context, c *Client, typeName, id, messageType string, msg *M) (*R, error) {
	payload, err := msgpack.Marshal(msg)
	if err != nil {
		return nil, err
	}
	resPayload, err := c.Send(ctx, typeName, id, messageType, payload)
	if err != nil {
		return nil, err
	}
	if len(resPayload) == 0 {
		return nil, nil
	}
	result := new(R)
	if err := msgpack.Unmarshal(resPayload, result); err != nil {
		return nil, err
	}
	return result, nil
}
