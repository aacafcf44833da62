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

package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/reugn/go-quartz/job"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/atomic"

	"github.com/arvo-run/arvo/errors"
	"github.com/arvo-run/arvo/log"
	"github.com/arvo-run/arvo/object"
)

// tickScheduler drives the periodic tick jobs of ticking objects over one
// process-wide quartz scheduler. Each job only enqueues a synthetic tick
// envelope on its object's mailbox, so ticks never race a handler; a full
// mailbox skips that tick and the next one fires normally.
type tickScheduler struct {
	mu              sync.Mutex
	quartzScheduler quartz.Scheduler
	logger          log.Logger
	started         *atomic.Bool
	stopped         *atomic.Bool
}

func newTickScheduler(logger log.Logger) *tickScheduler {
	quartzScheduler, _ := quartz.NewStdScheduler()
	return &tickScheduler{
		quartzScheduler: quartzScheduler,
		logger:          logger,
		started:         atomic.NewBool(false),
		stopped:         atomic.NewBool(false),
	}
}

// schedule registers inst's periodic tick job, starting the underlying
// scheduler on first use. The job key is the object's identity, so
// unschedule can retire it on deactivation.
func (x *tickScheduler) schedule(inst *instance, interval time.Duration) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.stopped.Load() {
		return errors.ErrClosed
	}
	if !x.started.Load() {
		x.quartzScheduler.Start(context.Background())
		x.started.Store(x.quartzScheduler.IsStarted())
	}

	tickJob := job.NewFunctionJob[bool](func(context.Context) (bool, error) {
		select {
		case <-inst.done:
			return false, nil
		default:
		}
		_ = inst.enqueue(&envelope{kind: envelopeTick, ctx: context.Background()})
		return true, nil
	})
	detail := quartz.NewJobDetail(tickJob, quartz.NewJobKey(inst.identity.String()))
	return x.quartzScheduler.ScheduleJob(detail, quartz.NewSimpleTrigger(interval))
}

// unschedule retires the tick job of a deactivating object.
func (x *tickScheduler) unschedule(identity object.Identity) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if !x.started.Load() {
		return
	}
	if err := x.quartzScheduler.DeleteJob(quartz.NewJobKey(identity.String())); err != nil {
		// the job may already be gone; nothing to retire
		x.logger.Debugf("unschedule ticks for %s: %v", identity, err)
	}
}

// stop clears every job and waits for in-flight ones to finish.
func (x *tickScheduler) stop(ctx context.Context) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.stopped.Store(true)
	if !x.started.CompareAndSwap(true, false) {
		return
	}
	if err := x.quartzScheduler.Clear(); err != nil {
		x.logger.Warnf("clear tick jobs: %v", err)
	}
	x.quartzScheduler.Stop()
	x.quartzScheduler.Wait(ctx)
}
