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

// Package scheduler owns every service object active on one node: it
// activates objects on first message, dispatches exactly one message at a
// time per object, checkpoints managed state, and drives deactivation, all
// under panic containment.
package scheduler

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/atomic"

	"github.com/arvo-run/arvo/config"
	"github.com/arvo-run/arvo/errors"
	"github.com/arvo-run/arvo/log"
	"github.com/arvo-run/arvo/metrics"
	"github.com/arvo-run/arvo/object"
	"github.com/arvo-run/arvo/placement"
	"github.com/arvo-run/arvo/wire"
)

const (
	// maxDispatchAttempts bounds the re-obtain loop when an instance
	// deactivates between slot lookup and enqueue.
	maxDispatchAttempts = 3

	storeTimeout = 5 * time.Second
)

// slot is one entry of the active set. A freshly stored slot is in its
// activating phase; ready is closed once inst or err is set.
type slot struct {
	ready chan struct{}
	inst  *instance
	err   error
}

// Scheduler is the per-node object scheduler.
type Scheduler struct {
	cfg       *config.Config
	logger    log.Logger
	registry  *object.Registry
	appData   *object.AppData
	directory *placement.Directory
	states    object.StateStorage
	metrics   *metrics.Metrics
	self      string

	slots    sync.Map // identity string -> *slot
	ticks    *tickScheduler
	stopping *atomic.Bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates a Scheduler. states and mets may be nil: without a state
// storage no object state survives deactivation, and without metrics
// nothing is counted.
func New(cfg *config.Config, registry *object.Registry, appData *object.AppData, directory *placement.Directory, states object.StateStorage, mets *metrics.Metrics) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		logger:    cfg.Logger,
		registry:  registry,
		appData:   appData,
		directory: directory,
		states:    states,
		metrics:   mets,
		self:      directory.Self(),
		ticks:     newTickScheduler(cfg.Logger),
		stopping:  atomic.NewBool(false),
		stopCh:    make(chan struct{}),
	}
}

// Dispatch delivers one message to the local instance of (typeName, id),
// activating it first when needed, and returns the outcome. Messages to the
// same identity are processed in enqueue order; no two handlers ever run
// concurrently on the same instance.
func (s *Scheduler) Dispatch(ctx context.Context, typeName, id, messageType string, payload []byte) *wire.Response {
	if s.stopping.Load() {
		return wire.ShuttingDown()
	}

	env := &envelope{
		kind:        envelopeUser,
		ctx:         ctx,
		messageType: messageType,
		payload:     payload,
		reply:       make(chan *wire.Response, 1),
	}
	key := object.NewIdentity(typeName, id).String()

	for attempt := 0; attempt < maxDispatchAttempts; attempt++ {
		inst, err := s.obtain(ctx, typeName, id, key)
		if err != nil {
			return wire.FromError(err, nil)
		}

		if err := inst.enqueue(env); err != nil {
			switch {
			case stderrors.Is(err, errors.ErrMailboxFull):
				return wire.Busy()
			case stderrors.Is(err, errors.ErrMailboxClosed):
				// the instance deactivated under us: wait for its slot to
				// clear and reactivate
				select {
				case <-inst.done:
					continue
				case <-ctx.Done():
					return wire.FromError(ctx.Err(), nil)
				}
			default:
				return wire.FromError(err, nil)
			}
		}

		select {
		case res := <-env.reply:
			return res
		case <-ctx.Done():
			// the caller gave up; the loop's late response is discarded
			return wire.InternalErr(wire.CodeInternal, ctx.Err().Error())
		}
	}
	return wire.ShuttingDown()
}

// obtain returns the Ready instance for the identity, activating one if the
// active set has no slot for it. Concurrent callers for the same identity
// share a single activation.
func (s *Scheduler) obtain(ctx context.Context, typeName, id, key string) (*instance, error) {
	value, loaded := s.slots.LoadOrStore(key, &slot{ready: make(chan struct{})})
	sl := value.(*slot)
	if loaded {
		select {
		case <-sl.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if sl.err != nil {
			return nil, sl.err
		}
		return sl.inst, nil
	}

	inst, err := s.activate(ctx, typeName, id)
	if err != nil {
		sl.err = err
		s.slots.Delete(key)
		close(sl.ready)
		return nil, err
	}
	sl.inst = inst
	close(sl.ready)
	return inst, nil
}

// activate materializes an instance: it confirms this node owns the
// placement row, constructs the object from its factory, runs the load
// hooks and state rehydration under panic containment, and spawns the
// dispatch loop. Any hook failure releases the placement row.
func (s *Scheduler) activate(ctx context.Context, typeName, id string) (*instance, error) {
	identity := object.NewIdentity(typeName, id)

	addr, ok, err := s.directory.Lookup(ctx, typeName, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		if addr, err = s.directory.Allocate(ctx, typeName, id); err != nil {
			return nil, err
		}
	}
	if addr != s.self {
		return nil, fmt.Errorf("owner=%s: %w", addr, errors.ErrNotOwner)
	}

	factory, err := s.registry.Factory(typeName)
	if err != nil {
		return nil, err
	}
	obj := factory()

	var mb mailbox
	if s.cfg.MailboxCapacity > 0 {
		mb = newBoundedMailbox(s.cfg.MailboxCapacity)
	} else {
		mb = newUnboundedMailbox()
	}

	shutdownFlag := atomic.NewBool(false)
	inst := newInstance(identity, obj, mb, shutdownFlag)
	octx := object.NewContext(ctx, identity, s.appData, shutdownFlag)

	if err := s.runActivationHooks(ctx, octx, inst); err != nil {
		releaseCtx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if _, evictErr := s.directory.EvictOne(releaseCtx, typeName, id, s.self); evictErr != nil {
			s.logger.Warnf("release placement for %s after failed activation: %v", identity, evictErr)
		}
		cancel()
		if s.metrics != nil {
			s.metrics.ActivationFailed.Inc()
		}
		return nil, errors.NewActivationFailed(identity.String(), err)
	}

	inst.lifecycle.Store(lifecycleReady)
	if s.metrics != nil {
		s.metrics.Activations.Inc()
		s.metrics.ActiveObjects.Inc()
	}
	s.logger.Debugf("activated %s on node=%s", identity, s.self)

	s.wg.Add(1)
	go s.dispatchLoop(inst)

	if ticker, isTicker := inst.obj.(object.Ticker); isTicker {
		if interval := ticker.TickInterval(); interval > 0 {
			if err := s.ticks.schedule(inst, interval); err != nil {
				s.logger.Warnf("schedule ticks for %s: %v", identity, err)
			}
		}
	}
	return inst, nil
}

func (s *Scheduler) runActivationHooks(ctx context.Context, octx *object.Context, inst *instance) error {
	if hook, ok := inst.obj.(object.BeforeLoader); ok {
		if err := guard(func() error { return hook.BeforeLoad(octx) }); err != nil {
			return err
		}
	}
	if err := s.loadState(ctx, inst); err != nil {
		return err
	}
	if hook, ok := inst.obj.(object.AfterLoader); ok {
		if err := guard(func() error { return hook.AfterLoad(octx) }); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) loadState(ctx context.Context, inst *instance) error {
	managed, ok := inst.obj.(object.ManagedState)
	if !ok || s.states == nil {
		return nil
	}
	payload, err := s.states.Load(ctx, object.StateKind, inst.identity.TypeName, inst.identity.ID, managed.StateName())
	if err != nil {
		return errors.NewStoreUnavailable("state", err)
	}
	if payload == nil {
		return nil
	}
	return msgpack.Unmarshal(payload, inst.obj)
}

// saveState checkpoints managed state. A failed save never fails the
// message that triggered it: the handler's in-memory result is
// authoritative, the error is logged and counted.
func (s *Scheduler) saveState(inst *instance) {
	managed, ok := inst.obj.(object.ManagedState)
	if !ok || s.states == nil {
		return
	}
	payload, err := msgpack.Marshal(inst.obj)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		err = s.states.Save(ctx, object.StateKind, inst.identity.TypeName, inst.identity.ID, managed.StateName(), payload)
		cancel()
	}
	if err != nil {
		s.logger.Warnf("save state for %s: %v", inst.identity, err)
		if s.metrics != nil {
			s.metrics.StateSaveFailures.Inc()
		}
	}
}

// dispatchLoop is the single consumer of an instance's mailbox. It exits by
// deactivating the instance: on self-shutdown, external eviction, idle
// expiry, or node shutdown.
func (s *Scheduler) dispatchLoop(inst *instance) {
	defer s.wg.Done()

	var idleTimer *time.Timer
	var idleC <-chan time.Time
	if s.cfg.IdleTTL > 0 {
		idleTimer = time.NewTimer(s.cfg.IdleTTL)
		defer idleTimer.Stop()
		idleC = idleTimer.C
	}

	for {
		if inst.shutdownFlag.Load() {
			s.deactivate(inst)
			return
		}

		env := inst.mailbox.Dequeue()
		if env == nil {
			select {
			case <-inst.signal:
			case <-s.stopCh:
				s.deactivate(inst)
				return
			case <-idleC:
				if inst.mailbox.Len() == 0 {
					s.deactivate(inst)
					return
				}
				idleTimer.Reset(s.cfg.IdleTTL)
			}
			continue
		}

		s.handle(inst, env)

		if idleTimer != nil {
			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(s.cfg.IdleTTL)
		}
	}
}

// handle runs one envelope. Handler panics fail the message, never the
// object; tick and publish panics are logged and swallowed.
func (s *Scheduler) handle(inst *instance, env *envelope) {
	inst.lastActivity.Store(time.Now())
	octx := object.NewContext(env.ctx, inst.identity, s.appData, inst.shutdownFlag)

	switch env.kind {
	case envelopeTick:
		if ticker, ok := inst.obj.(object.Ticker); ok {
			if err := guard(func() error { return ticker.Tick(octx) }); err != nil {
				s.logger.Warnf("tick on %s: %v", inst.identity, err)
			}
			s.saveState(inst)
		}
	case envelopePublish:
		if handler, ok := inst.obj.(object.SubjectHandler); ok {
			if err := guard(func() error { return handler.OnPublish(octx, env.subject, env.payload) }); err != nil {
				s.logger.Warnf("publish %q on %s: %v", env.subject, inst.identity, err)
			}
			s.saveState(inst)
		}
	case envelopeUser:
		handler, err := s.registry.Handler(inst.identity.TypeName, env.messageType)
		if err != nil {
			env.respond(wire.FromError(err, nil))
			return
		}

		var result []byte
		err = guard(func() error {
			var handleErr error
			result, handleErr = handler(octx, inst.obj, env.payload)
			return handleErr
		})
		var panicErr *errors.PanicError
		if stderrors.As(err, &panicErr) {
			s.logger.Errorf("handler %s/%s panicked: %v", inst.identity, env.messageType, panicErr.Value)
			if s.metrics != nil {
				s.metrics.HandlerPanics.Inc()
			}
			err = errors.NewHandlerPanic(panicErr.Value)
		}
		if err == nil {
			s.saveState(inst)
		}
		env.respond(wire.FromError(err, result))
		if s.metrics != nil {
			s.metrics.MessagesDispatched.Inc()
		}
	}
}

// deactivate drains the mailbox, runs the shutdown hook, checkpoints state,
// releases the placement row unless the row was already reassigned, and
// removes the slot.
func (s *Scheduler) deactivate(inst *instance) {
	if !inst.lifecycle.CompareAndSwap(lifecycleReady, lifecycleDeactivating) {
		return
	}

	if _, isTicker := inst.obj.(object.Ticker); isTicker {
		s.ticks.unschedule(inst.identity)
	}

	inst.mailbox.Close()
	for env := inst.mailbox.Dequeue(); env != nil; env = inst.mailbox.Dequeue() {
		env.respond(wire.ShuttingDown())
	}

	octx := object.NewContext(context.Background(), inst.identity, s.appData, inst.shutdownFlag)
	if hook, ok := inst.obj.(object.BeforeShutdowner); ok {
		if err := guard(func() error { return hook.BeforeShutdown(octx) }); err != nil {
			s.logger.Warnf("shutdown hook on %s: %v", inst.identity, err)
		}
	}
	s.saveState(inst)

	if !inst.externallyEvicted.Load() {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if _, err := s.directory.EvictOne(ctx, inst.identity.TypeName, inst.identity.ID, s.self); err != nil {
			s.logger.Warnf("release placement for %s: %v", inst.identity, err)
		}
		cancel()
	} else {
		s.directory.Invalidate(inst.identity.TypeName, inst.identity.ID)
	}

	s.slots.Delete(inst.identity.String())
	if s.metrics != nil {
		s.metrics.Deactivations.Inc()
		s.metrics.ActiveObjects.Dec()
	}
	s.logger.Debugf("deactivated %s on node=%s", inst.identity, s.self)

	inst.lifecycle.Store(lifecycleDead)
	close(inst.done)
}

// EvictLocal initiates the shutdown path for a local instance whose
// placement row was reassigned elsewhere. It reports whether the identity
// was locally active.
func (s *Scheduler) EvictLocal(typeName, id string) bool {
	value, ok := s.slots.Load(object.NewIdentity(typeName, id).String())
	if !ok {
		return false
	}
	sl := value.(*slot)
	select {
	case <-sl.ready:
	default:
		return false
	}
	if sl.inst == nil {
		return false
	}
	sl.inst.externallyEvicted.Store(true)
	sl.inst.shutdownFlag.Store(true)
	sl.inst.wake()
	return true
}

// DeliverPublish enqueues a pub/sub delivery as a synthetic message on the
// local instance of (typeName, id). Delivery is best-effort: a full mailbox
// drops the publish and counts it.
func (s *Scheduler) DeliverPublish(typeName, id, subject string, payload []byte) error {
	value, ok := s.slots.Load(object.NewIdentity(typeName, id).String())
	if !ok {
		return errors.ErrClosed
	}
	sl := value.(*slot)
	select {
	case <-sl.ready:
	default:
		return errors.ErrClosed
	}
	if sl.inst == nil {
		return errors.ErrClosed
	}
	env := &envelope{kind: envelopePublish, ctx: context.Background(), subject: subject, payload: payload}
	if err := sl.inst.enqueue(env); err != nil {
		if stderrors.Is(err, errors.ErrMailboxFull) && s.metrics != nil {
			s.metrics.PubSubDrops.Inc()
		}
		return err
	}
	return nil
}

// IsLocal reports whether (typeName, id) is active on this node.
func (s *Scheduler) IsLocal(typeName, id string) bool {
	value, ok := s.slots.Load(object.NewIdentity(typeName, id).String())
	if !ok {
		return false
	}
	sl := value.(*slot)
	select {
	case <-sl.ready:
		return sl.inst != nil
	default:
		return true
	}
}

// ActiveCount returns the number of locally active objects.
func (s *Scheduler) ActiveCount() int {
	count := 0
	s.slots.Range(func(any, any) bool {
		count++
		return true
	})
	return count
}

// Shutdown cancels every dispatch loop; each drains its mailbox and
// releases its placement row before Shutdown returns.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	if !s.stopping.CompareAndSwap(false, true) {
		return nil
	}
	s.ticks.stop(ctx)
	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// guard runs fn, converting a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = errors.NewPanicError(recovered)
		}
	}()
	return fn()
}
