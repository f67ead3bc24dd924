//
// Copyright 2019-2020 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestybox/mountbroker/domain"
)

type testCaller struct {
	pid   uint32
	token domain.SessionToken
}

func (c testCaller) Pid() uint32               { return c.pid }
func (c testCaller) Uid() uint32                { return 0 }
func (c testCaller) Gid() uint32                { return 0 }
func (c testCaller) Token() domain.SessionToken { return c.token }

func TestTriggerAndTakeNextAndComplete(t *testing.T) {
	b := New(nil)
	caller := testCaller{pid: 1, token: "caller"}

	var triggerErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		triggerErr = b.Trigger(caller, domain.ReqMount, "fuse", "/home/jdoe", "/", "jdoe", "", "", 0)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	desc, err := waitTakeNext(t, b, ctx)
	require.NoError(t, err)
	assert.Equal(t, "/home/jdoe", desc.Path)
	assert.True(t, desc.InProgress)

	b.Complete(desc.ID, nil)
	wg.Wait()
	assert.NoError(t, triggerErr)
}

func waitTakeNext(t *testing.T, b *Broker, ctx context.Context) (domain.RequestDescriptor, error) {
	t.Helper()
	return b.TakeNext(ctx)
}

func TestTriggerDedupesByFingerprint(t *testing.T) {
	b := New(nil)
	caller := testCaller{pid: 1, token: "caller"}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = b.Trigger(caller, domain.ReqMount, "fuse", "/home/jdoe", "/", "jdoe", "", "", 0)
		}(i)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	desc, err := b.TakeNext(ctx)
	require.NoError(t, err)

	// The second Trigger call must have joined the same request rather
	// than posting a new one.
	_, _, ok := b.Peek(1)
	assert.False(t, ok, "only one request should have been posted")

	b.Complete(desc.ID, nil)
	wg.Wait()
	assert.NoError(t, results[0])
	assert.NoError(t, results[1])
}

func TestTriggerHonoursOneShotTimeout(t *testing.T) {
	b := New(nil)
	caller := testCaller{pid: 1, token: "caller"}

	err := b.Trigger(caller, domain.ReqMount, "fuse", "/home/jdoe", "/", "jdoe", "", "", 10*time.Millisecond)
	assert.ErrorIs(t, err, domain.ErrRequestTimeout)
}

func TestCompleteIsIdempotent(t *testing.T) {
	b := New(nil)
	caller := testCaller{pid: 1, token: "caller"}

	go b.Trigger(caller, domain.ReqMount, "fuse", "/home/jdoe", "/", "jdoe", "", "", 0)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	desc, err := b.TakeNext(ctx)
	require.NoError(t, err)

	b.Complete(desc.ID, nil)
	assert.NotPanics(t, func() { b.Complete(desc.ID, domain.ErrHostIo) })
}

func TestIgnoreThreadBypassesTrigger(t *testing.T) {
	b := New(nil)
	require.NoError(t, b.OpenHelperSession("helper-session"))

	caller := testCaller{pid: 99, token: "helper-session"}
	err := b.Trigger(caller, domain.ReqMount, "fuse", "/home/jdoe", "/", "jdoe", "", "", 0)
	assert.NoError(t, err)

	_, _, ok := b.Peek(0)
	assert.False(t, ok, "a reentrant caller's request should never be posted")
}

func TestForceUnmountCompletesPendingUnderPrefix(t *testing.T) {
	b := New(nil)
	caller := testCaller{pid: 1, token: "caller"}

	errCh := make(chan error, 1)
	go func() {
		errCh <- b.Trigger(caller, domain.ReqMount, "fuse", "/home/jdoe", "/", "jdoe", "", "", 0)
	}()

	require.Eventually(t, func() bool {
		_, _, ok := b.Peek(0)
		return ok
	}, time.Second, time.Millisecond)

	b.ForceUnmount("/home")

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, domain.ErrNodeNotFound)
	case <-time.After(2 * time.Second):
		t.Fatal("Trigger did not unblock after ForceUnmount")
	}
}

func TestPeekEnumeratesInOrder(t *testing.T) {
	b := New(nil)
	caller := testCaller{pid: 1, token: "caller"}

	go b.Trigger(caller, domain.ReqMount, "fuse", "/home/a", "/", "a", "", "", 0)
	go b.Trigger(caller, domain.ReqMount, "fuse", "/home/b", "/", "b", "", "", 0)

	require.Eventually(t, func() bool {
		_, next, ok := b.Peek(0)
		return ok && next == 1
	}, time.Second, time.Millisecond)

	first, next, ok := b.Peek(0)
	require.True(t, ok)
	assert.Equal(t, "/home/a", first.Path)

	second, next2, ok := b.Peek(next)
	require.True(t, ok)
	assert.Equal(t, "/home/b", second.Path)
	assert.Equal(t, uint32(0), next2)
}

func TestCompletedRequestIsRemovedOnceLastWaiterReleases(t *testing.T) {
	b := New(nil)
	caller := testCaller{pid: 1, token: "caller"}

	go b.Trigger(caller, domain.ReqMount, "fuse", "/home/jdoe", "/", "jdoe", "", "", 0)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	desc, err := b.TakeNext(ctx)
	require.NoError(t, err)

	b.Complete(desc.ID, nil)

	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		_, present := b.byID[desc.ID]
		return !present
	}, time.Second, time.Millisecond, "entry should be removed once its only waiter releases it")

	b.mu.Lock()
	assert.Empty(t, b.order)
	b.mu.Unlock()
}

func TestCompletedRequestSurvivesUntilLastOfMultipleWaitersReleases(t *testing.T) {
	b := New(nil)
	caller := testCaller{pid: 1, token: "caller"}

	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			b.Trigger(caller, domain.ReqMount, "fuse", "/home/jdoe", "/", "jdoe", "", "", 0)
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	desc, err := b.TakeNext(ctx)
	require.NoError(t, err)

	b.Complete(desc.ID, nil)
	wg.Wait()

	b.mu.Lock()
	_, present := b.byID[desc.ID]
	b.mu.Unlock()
	assert.False(t, present, "entry should be removed once both waiters have released it")
}

func TestOpenHelperSessionRefusesSecondDistinctHelper(t *testing.T) {
	b := New(nil)
	require.NoError(t, b.OpenHelperSession("helper-a"))
	err := b.OpenHelperSession("helper-b")
	assert.ErrorIs(t, err, domain.ErrHelperBusy)
}
