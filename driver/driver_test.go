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

package driver

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestybox/mountbroker/domain"
)

// fakeChannel is a tiny in-memory domain.HelperChannelIface stand-in
// that hands out a fixed slice of requests once each, then blocks until
// its context is cancelled -- the same shape broker.Broker presents to
// a real Driver, without a grpc round-trip.
type fakeChannel struct {
	mu        sync.Mutex
	pending   []domain.WireRequest
	completed map[uint32]int32
}

func newFakeChannel(reqs ...domain.WireRequest) *fakeChannel {
	return &fakeChannel{pending: reqs, completed: make(map[uint32]int32)}
}

func (f *fakeChannel) TakeNext(ctx context.Context) (domain.WireRequest, error) {
	f.mu.Lock()
	if len(f.pending) > 0 {
		req := f.pending[0]
		f.pending = f.pending[1:]
		f.mu.Unlock()
		return req, nil
	}
	f.mu.Unlock()

	<-ctx.Done()
	return domain.WireRequest{}, ctx.Err()
}

func (f *fakeChannel) Complete(id uint32, errCode int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[id] = errCode
	return nil
}

func (f *fakeChannel) Peek(uint32) (domain.WirePeekResponse, error) {
	return domain.WirePeekResponse{}, domain.ErrNodeNotFound
}

func (f *fakeChannel) resultOf(id uint32) (int32, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.completed[id]
	return v, ok
}

type countingExecutor struct {
	calls int32
	err   error
}

func (e *countingExecutor) Execute(ctx context.Context, req domain.WireRequest) error {
	atomic.AddInt32(&e.calls, 1)
	return e.err
}

func TestDriverCompletesEachRequest(t *testing.T) {
	ch := newFakeChannel(
		domain.WireRequest{ID: 1, Type: domain.ReqMount, Path: "/home/jdoe"},
		domain.WireRequest{ID: 2, Type: domain.ReqMount, Path: "/home/bob"},
	)
	exec := &countingExecutor{}
	d := New(ch, exec, Config{MaxProc: 2})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	go d.Run(ctx)

	require.Eventually(t, func() bool {
		_, ok1 := ch.resultOf(1)
		_, ok2 := ch.resultOf(2)
		return ok1 && ok2
	}, 2*time.Second, 5*time.Millisecond)

	code, _ := ch.resultOf(1)
	assert.Equal(t, int32(domain.ErrNone), code)
	assert.EqualValues(t, 2, atomic.LoadInt32(&exec.calls))
}

func TestDriverReportsExecutorFailureAsErrno(t *testing.T) {
	ch := newFakeChannel(domain.WireRequest{ID: 7, Type: domain.ReqStage, Path: "/archive/a"})
	exec := &countingExecutor{err: domain.ErrWorkerFailed}
	d := New(ch, exec, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go d.Run(ctx)

	require.Eventually(t, func() bool {
		_, ok := ch.resultOf(7)
		return ok
	}, time.Second, 5*time.Millisecond)

	code, _ := ch.resultOf(7)
	assert.Equal(t, int32(domain.ErrHelperFailed), code)
}

func TestDriverRespectsMaxProcBackpressure(t *testing.T) {
	reqs := make([]domain.WireRequest, 5)
	for i := range reqs {
		reqs[i] = domain.WireRequest{ID: uint32(i + 1), Type: domain.ReqMount, Path: "/m"}
	}
	ch := newFakeChannel(reqs...)

	var inFlight, maxSeen int32
	blocking := executorFunc(func(ctx context.Context, req domain.WireRequest) error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&maxSeen)
			if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil
	})

	d := New(ch, blocking, Config{MaxProc: 2})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go d.Run(ctx)

	require.Eventually(t, func() bool {
		for i := uint32(1); i <= 5; i++ {
			if _, ok := ch.resultOf(i); !ok {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)

	assert.LessOrEqual(t, atomic.LoadInt32(&maxSeen), int32(2))
}

type executorFunc func(ctx context.Context, req domain.WireRequest) error

func (f executorFunc) Execute(ctx context.Context, req domain.WireRequest) error { return f(ctx, req) }
