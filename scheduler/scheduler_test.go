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
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/goleak"

	"github.com/arvo-run/arvo/config"
	"github.com/arvo-run/arvo/log"
	"github.com/arvo-run/arvo/object"
	"github.com/arvo-run/arvo/placement"
	"github.com/arvo-run/arvo/storage/memory"
	"github.com/arvo-run/arvo/wire"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const self = "127.0.0.1:7001"

type staticMembers struct{}

func (staticMembers) ActiveSet(context.Context) (mapset.Set[string], error) {
	return mapset.NewSet(self), nil
}

// recorder observes hook and handler activity across activations of the
// same identity.
type recorder struct {
	mu             sync.Mutex
	loads          int
	shutdowns      int
	ticks          int
	order          []int64
	failBeforeLoad bool
	block          chan struct{}
	started        chan struct{}
}

func newRecorder() *recorder {
	return &recorder{}
}

// account is the test service object: a managed counter with hooks.
type account struct {
	Balance int64 `msgpack:"balance"`

	rec *recorder
}

var (
	_ object.ManagedState     = (*account)(nil)
	_ object.BeforeLoader     = (*account)(nil)
	_ object.BeforeShutdowner = (*account)(nil)
)

func (a *account) StateName() string { return "account" }

func (a *account) BeforeLoad(*object.Context) error {
	a.rec.mu.Lock()
	defer a.rec.mu.Unlock()
	a.rec.loads++
	if a.rec.failBeforeLoad {
		return assert.AnError
	}
	return nil
}

func (a *account) BeforeShutdown(*object.Context) error {
	a.rec.mu.Lock()
	a.rec.shutdowns++
	a.rec.mu.Unlock()
	return nil
}

type deposit struct {
	Amount int64 `msgpack:"amount"`
	Seq    int64 `msgpack:"seq"`
}

type balance struct {
	Balance int64 `msgpack:"balance"`
}

func registerAccount(registry *object.Registry, rec *recorder) {
	registry.RegisterType("Account", func() object.ServiceObject {
		return &account{rec: rec}
	})

	object.RegisterMessage(registry, "Account", "Deposit",
		func(_ *object.Context, a *account, msg *deposit) (*balance, error) {
			a.rec.mu.Lock()
			a.rec.order = append(a.rec.order, msg.Seq)
			a.rec.mu.Unlock()
			a.Balance += msg.Amount
			return &balance{Balance: a.Balance}, nil
		})

	object.RegisterMessage(registry, "Account", "Balance",
		func(_ *object.Context, a *account, _ *struct{}) (*balance, error) {
			return &balance{Balance: a.Balance}, nil
		})

	object.RegisterMessage(registry, "Account", "Boom",
		func(*object.Context, *account, *struct{}) (*balance, error) {
			panic("boom")
		})

	object.RegisterMessage(registry, "Account", "Close",
		func(ctx *object.Context, a *account, _ *struct{}) (*balance, error) {
			ctx.RequestShutdown()
			return &balance{Balance: a.Balance}, nil
		})

	object.RegisterMessage(registry, "Account", "Block",
		func(_ *object.Context, a *account, _ *struct{}) (*balance, error) {
			if a.rec.started != nil {
				close(a.rec.started)
				a.rec.started = nil
			}
			if a.rec.block != nil {
				<-a.rec.block
			}
			return &balance{Balance: a.Balance}, nil
		})
}

type testEnv struct {
	sched  *Scheduler
	place  *memory.PlacementStore
	states *memory.StateStore
	rec    *recorder
}

func newTestEnv(t *testing.T, opts ...config.Option) *testEnv {
	t.Helper()
	opts = append([]config.Option{config.WithLogger(log.DiscardLogger)}, opts...)
	cfg, err := config.New("test", self, opts...)
	require.NoError(t, err)

	place := memory.NewPlacementStore()
	directory, err := placement.NewDirectory(self, place, staticMembers{}, 128, log.DiscardLogger)
	require.NoError(t, err)

	rec := newRecorder()
	registry := object.NewRegistry()
	registerAccount(registry, rec)

	states := memory.NewStateStore()
	sched := New(cfg, registry, object.NewAppData(), directory, states, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, sched.Shutdown(ctx))
	})
	return &testEnv{sched: sched, place: place, states: states, rec: rec}
}

func dispatch(t *testing.T, env *testEnv, messageType string, msg any) *wire.Response {
	t.Helper()
	var payload []byte
	if msg != nil {
		var err error
		payload, err = msgpack.Marshal(msg)
		require.NoError(t, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return env.sched.Dispatch(ctx, "Account", "x", messageType, payload)
}

func decodeBalance(t *testing.T, res *wire.Response) int64 {
	t.Helper()
	require.Equal(t, wire.StatusOk, res.Status, "unexpected response: %+v", res)
	var b balance
	require.NoError(t, msgpack.Unmarshal(res.Payload, &b))
	return b.Balance
}

func TestSingleActivationUnderConcurrentSends(t *testing.T) {
	env := newTestEnv(t)

	const senders = 32
	var wg sync.WaitGroup
	for range senders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := dispatch(t, env, "Deposit", &deposit{Amount: 1})
			assert.Equal(t, wire.StatusOk, res.Status)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, env.rec.loads, "concurrent first sends share one activation")
	assert.Equal(t, int64(senders), decodeBalance(t, dispatch(t, env, "Balance", nil)),
		"no lost updates: handlers never run concurrently on one instance")
	assert.Equal(t, 1, env.sched.ActiveCount())
}

func TestMessageOrderPerObject(t *testing.T) {
	env := newTestEnv(t)

	const sends = 50
	for seq := int64(1); seq <= sends; seq++ {
		res := dispatch(t, env, "Deposit", &deposit{Amount: 1, Seq: seq})
		require.Equal(t, wire.StatusOk, res.Status)
	}

	env.rec.mu.Lock()
	defer env.rec.mu.Unlock()
	require.Len(t, env.rec.order, sends)
	for i, seq := range env.rec.order {
		assert.Equal(t, int64(i+1), seq)
	}
}

func TestHandlerPanicFailsMessageNotObject(t *testing.T) {
	env := newTestEnv(t)

	require.Equal(t, int64(5), decodeBalance(t, dispatch(t, env, "Deposit", &deposit{Amount: 5})))

	res := dispatch(t, env, "Boom", nil)
	assert.Equal(t, wire.StatusInternalErr, res.Status)
	assert.Equal(t, wire.CodeHandlerPanic, res.Code)

	// the object survived with its state intact, no reactivation
	assert.Equal(t, int64(5), decodeBalance(t, dispatch(t, env, "Balance", nil)))
	assert.Equal(t, 1, env.rec.loads)
}

func TestActivationHookFailureReleasesPlacement(t *testing.T) {
	env := newTestEnv(t)
	env.rec.failBeforeLoad = true

	res := dispatch(t, env, "Deposit", &deposit{Amount: 1})
	assert.Equal(t, wire.StatusInternalErr, res.Status)
	assert.Equal(t, wire.CodeActivationFailed, res.Code)
	assert.Equal(t, 0, env.place.Len(), "failed activation releases the placement row")
	assert.Equal(t, 0, env.sched.ActiveCount())

	// a later send reactivates cleanly
	env.rec.failBeforeLoad = false
	assert.Equal(t, int64(1), decodeBalance(t, dispatch(t, env, "Deposit", &deposit{Amount: 1})))
	assert.Equal(t, 2, env.rec.loads)
}

func TestUnknownTypeAndMessage(t *testing.T) {
	env := newTestEnv(t)

	ctx := context.Background()
	res := env.sched.Dispatch(ctx, "Nope", "x", "Deposit", nil)
	assert.Equal(t, wire.CodeUnknownType, res.Code)

	res = dispatch(t, env, "Nope", nil)
	assert.Equal(t, wire.CodeUnknownMessage, res.Code)
}

func TestSelfShutdownReleasesRowThenReactivates(t *testing.T) {
	env := newTestEnv(t)

	require.Equal(t, int64(2), decodeBalance(t, dispatch(t, env, "Deposit", &deposit{Amount: 2})))
	dispatch(t, env, "Close", nil)

	assert.Eventually(t, func() bool {
		return env.sched.ActiveCount() == 0 && env.place.Len() == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, env.rec.shutdowns)

	// state was checkpointed, so the next activation rehydrates it
	assert.Equal(t, int64(2), decodeBalance(t, dispatch(t, env, "Balance", nil)))
	assert.Equal(t, 2, env.rec.loads)
}

func TestStateRoundTripAcrossDeactivation(t *testing.T) {
	env := newTestEnv(t)

	for range 3 {
		dispatch(t, env, "Deposit", &deposit{Amount: 1})
	}
	dispatch(t, env, "Close", nil)
	assert.Eventually(t, func() bool { return env.sched.ActiveCount() == 0 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, int64(3), decodeBalance(t, dispatch(t, env, "Balance", nil)))
}

func TestExternalEvictionKeepsReassignedRow(t *testing.T) {
	env := newTestEnv(t)

	dispatch(t, env, "Deposit", &deposit{Amount: 1})
	require.Equal(t, 1, env.place.Len())

	require.True(t, env.sched.EvictLocal("Account", "x"))
	assert.Eventually(t, func() bool { return env.sched.ActiveCount() == 0 }, time.Second, 5*time.Millisecond)

	// the row belongs to the peer that took over; eviction must not
	// delete it
	assert.Equal(t, 1, env.place.Len())
	assert.False(t, env.sched.EvictLocal("Account", "x"))
}

func TestIdlePassivation(t *testing.T) {
	env := newTestEnv(t, config.WithIdleTTL(30*time.Millisecond))

	dispatch(t, env, "Deposit", &deposit{Amount: 4})
	require.Equal(t, 1, env.sched.ActiveCount())

	assert.Eventually(t, func() bool {
		return env.sched.ActiveCount() == 0 && env.place.Len() == 0
	}, time.Second, 10*time.Millisecond)

	// idle passivation persisted state like any other deactivation
	assert.Equal(t, int64(4), decodeBalance(t, dispatch(t, env, "Balance", nil)))
}

func TestBoundedMailboxRejectsWhenFull(t *testing.T) {
	env := newTestEnv(t, config.WithMailboxCapacity(1))
	env.rec.block = make(chan struct{})
	env.rec.started = make(chan struct{})
	started := env.rec.started

	results := make(chan *wire.Response, 2)
	go func() { results <- dispatch(t, env, "Block", nil) }()
	<-started // the handler now occupies the loop

	go func() { results <- dispatch(t, env, "Deposit", &deposit{Amount: 1}) }()
	assert.Eventually(t, func() bool {
		return env.sched.slotsLen("Account", "x") == 1
	}, time.Second, time.Millisecond)

	// the mailbox is full: the next send bounces immediately
	res := dispatch(t, env, "Deposit", &deposit{Amount: 1})
	assert.Equal(t, wire.StatusBusy, res.Status)

	close(env.rec.block)
	assert.Equal(t, wire.StatusOk, (<-results).Status)
	assert.Equal(t, wire.StatusOk, (<-results).Status)
}

func TestShutdownDrainsEveryObject(t *testing.T) {
	env := newTestEnv(t)

	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		payload, err := msgpack.Marshal(&deposit{Amount: 1})
		require.NoError(t, err)
		res := env.sched.Dispatch(ctx, "Account", id, "Deposit", payload)
		require.Equal(t, wire.StatusOk, res.Status)
	}
	require.Equal(t, 3, env.sched.ActiveCount())

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, env.sched.Shutdown(shutdownCtx))

	assert.Equal(t, 0, env.sched.ActiveCount())
	assert.Equal(t, 0, env.place.Len(), "node shutdown releases every placement row")

	res := env.sched.Dispatch(ctx, "Account", "a", "Deposit", nil)
	assert.Equal(t, wire.StatusShuttingDown, res.Status)
}

// slotsLen reports the mailbox depth of a ready instance, for tests.
func (s *Scheduler) slotsLen(typeName, id string) int64 {
	value, ok := s.slots.Load(object.NewIdentity(typeName, id).String())
	if !ok {
		return 0
	}
	sl := value.(*slot)
	select {
	case <-sl.ready:
	default:
		return 0
	}
	if sl.inst == nil {
		return 0
	}
	return sl.inst.mailbox.Len()
}

type chimer struct {
	rec *recorder
}

var _ object.Ticker = (*chimer)(nil)

func (c *chimer) TickInterval() time.Duration { return 10 * time.Millisecond }

func (c *chimer) Tick(*object.Context) error {
	c.rec.mu.Lock()
	c.rec.ticks++
	c.rec.mu.Unlock()
	return nil
}

func TestTicksRunThroughTheMailbox(t *testing.T) {
	rec := newRecorder()
	registryTick := object.NewRegistry()
	registryTick.RegisterType("Chimer", func() object.ServiceObject { return &chimer{rec: rec} })
	object.RegisterMessage(registryTick, "Chimer", "Noop",
		func(*object.Context, *chimer, *struct{}) (*struct{}, error) { return &struct{}{}, nil })

	cfg, err := config.New("tick-test", self, config.WithLogger(log.DiscardLogger))
	require.NoError(t, err)
	place := memory.NewPlacementStore()
	directory, err := placement.NewDirectory(self, place, staticMembers{}, 128, log.DiscardLogger)
	require.NoError(t, err)
	sched := New(cfg, registryTick, object.NewAppData(), directory, nil, nil)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, sched.Shutdown(ctx))
	}()

	res := sched.Dispatch(context.Background(), "Chimer", "bell", "Noop", nil)
	require.Equal(t, wire.StatusOk, res.Status)

	assert.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.ticks >= 3
	}, time.Second, 10*time.Millisecond)
}

type noisy struct{}

var _ object.SubjectHandler = (*noisy)(nil)

var publishLog = struct {
	mu       sync.Mutex
	subjects []string
}{}

func (n *noisy) OnPublish(_ *object.Context, subject string, _ []byte) error {
	publishLog.mu.Lock()
	publishLog.subjects = append(publishLog.subjects, subject)
	publishLog.mu.Unlock()
	return nil
}

func TestDeliverPublishGoesThroughMailbox(t *testing.T) {
	cfg, err := config.New("pub-test", self, config.WithLogger(log.DiscardLogger))
	require.NoError(t, err)
	place := memory.NewPlacementStore()
	directory, err := placement.NewDirectory(self, place, staticMembers{}, 128, log.DiscardLogger)
	require.NoError(t, err)

	registry := object.NewRegistry()
	registry.RegisterType("Noisy", func() object.ServiceObject { return new(noisy) })
	object.RegisterMessage(registry, "Noisy", "Noop",
		func(*object.Context, *noisy, *struct{}) (*struct{}, error) { return &struct{}{}, nil })

	sched := New(cfg, registry, object.NewAppData(), directory, nil, nil)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, sched.Shutdown(ctx))
	}()

	// publishes to an inactive identity are dropped
	assert.Error(t, sched.DeliverPublish("Noisy", "n", "chat", []byte("early")))

	res := sched.Dispatch(context.Background(), "Noisy", "n", "Noop", nil)
	require.Equal(t, wire.StatusOk, res.Status)

	require.NoError(t, sched.DeliverPublish("Noisy", "n", "chat", []byte("hello")))
	assert.Eventually(t, func() bool {
		publishLog.mu.Lock()
		defer publishLog.mu.Unlock()
		return len(publishLog.subjects) == 1 && publishLog.subjects[0] == "chat"
	}, time.Second, 5*time.Millisecond)
}
