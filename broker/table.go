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
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/nestybox/mountbroker/domain"
)

var _ domain.BrokerIface = (*Broker)(nil)

// entry is the broker's private bookkeeping for one request; callers
// only ever see the domain.RequestDescriptor snapshot copied out of it.
type entry struct {
	desc     domain.RequestDescriptor
	fp       domain.Fingerprint
	waiters  int
	timer    *time.Timer
}

// Broker implements domain.BrokerIface (components C3+C4). A single
// exclusive lock plus one condition variable serialises every state
// transition, exactly as spec §4.1's "request-table lock" and "wait/wake"
// properties (P1, P2, P8) require; this is the broker equivalent of the
// teacher's nsenter event-response rendezvous in nsenter/eventService.go,
// generalised from one-shot RPC replies to a shared many-waiter table.
type Broker struct {
	mu   sync.Mutex
	cond *sync.Cond

	byID     map[uint32]*entry
	byFP     map[domain.Fingerprint]*entry
	order    []uint32
	nextID   uint32

	sessionOpen bool
	helperToken domain.SessionToken

	metrics *metrics
}

// New builds an empty Broker. reg may be nil to skip prometheus
// registration (tests construct several Brokers in one process).
func New(reg prometheus.Registerer) *Broker {
	b := &Broker{
		byID:    make(map[uint32]*entry),
		byFP:    make(map[domain.Fingerprint]*entry),
		nextID:  1,
		metrics: newMetrics(reg),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Trigger implements spec §4.1's core algorithm: join an in-flight
// request matching (type, path, key) if one exists (I-R1 dedup), else
// post a new one and arm its one-shot timeout timer (P2), then block on
// the shared condition variable until it's marked Done. A caller that is
// itself the registered helper session (or one of its descendants) is
// let through immediately -- the reentrancy rule (P3, spec §5) that
// keeps the helper's own accesses to mount targets from deadlocking
// against itself.
func (b *Broker) Trigger(caller domain.CallerIface, reqType domain.RequestType, from, path, prefix, key, location, options string, timeout time.Duration) error {
	b.mu.Lock()

	if domain.IgnoreThread(caller, b.helperToken) {
		b.mu.Unlock()
		return nil
	}

	fp := newFingerprint(reqType, path, key)
	if e, ok := b.byFP[fp]; ok {
		e.waiters++
		for !e.desc.Done {
			b.cond.Wait()
		}
		err := e.desc.Error
		b.releaseWaiter(e)
		b.mu.Unlock()
		return err
	}

	id := b.nextID
	b.nextID++

	e := &entry{
		desc: domain.RequestDescriptor{
			ID:        id,
			Type:      reqType,
			From:      from,
			Path:      path,
			Prefix:    prefix,
			Key:       key,
			Location:  location,
			Options:   options,
			CreatedAt: time.Now(),
		},
		fp:      fp,
		waiters: 1,
	}
	b.byID[id] = e
	b.byFP[fp] = e
	b.order = append(b.order, id)

	if timeout > 0 {
		e.timer = time.AfterFunc(timeout, func() {
			b.completeTimedOut(id)
		})
	}

	if b.metrics != nil {
		b.metrics.triggered.WithLabelValues(reqType.String()).Inc()
		b.metrics.inFlight.Inc()
	}

	b.cond.Broadcast() // wake a TakeNext waiter

	for !e.desc.Done {
		b.cond.Wait()
	}
	err := e.desc.Error
	b.releaseWaiter(e)
	b.mu.Unlock()
	return err
}

// releaseWaiter implements I-R3: refcount ≥ 1 while the request is in
// the table, removal happens when the last waiter releases it. Called
// with b.mu held, after the entry is confirmed Done.
func (b *Broker) releaseWaiter(e *entry) {
	e.waiters--
	if e.waiters > 0 {
		return
	}

	delete(b.byID, e.desc.ID)
	for i, id := range b.order {
		if id == e.desc.ID {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// TakeNext implements the helper's "give me one" call (spec §6.2): block
// until an unclaimed request exists, in id (FIFO) order, mark it
// in-progress and hand back a snapshot.
func (b *Broker) TakeNext(ctx context.Context) (domain.RequestDescriptor, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			b.cond.Broadcast()
			b.mu.Unlock()
		case <-done:
		}
	}()

	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return domain.RequestDescriptor{}, err
		}

		for _, id := range b.order {
			e := b.byID[id]
			if e.desc.Done || e.desc.InProgress {
				continue
			}
			e.desc.InProgress = true
			return e.desc, nil
		}

		b.cond.Wait()
	}
}

// Complete reports request id's outcome (spec §6.2 Done message). It is
// idempotent (P8): completing an id twice, or one already timed out, is
// a no-op.
func (b *Broker) Complete(id uint32, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completeLocked(id, err, false)
}

func (b *Broker) completeTimedOut(id uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completeLocked(id, domain.ErrRequestTimeout, true)
}

func (b *Broker) completeLocked(id uint32, err error, fromTimer bool) {
	e, ok := b.byID[id]
	if !ok || e.desc.Done {
		return
	}

	if e.timer != nil && !fromTimer {
		e.timer.Stop()
	}

	e.desc.Done = true
	e.desc.InProgress = false
	e.desc.Error = err
	delete(b.byFP, e.fp) // a fresh request with the same fingerprint must not join a finished one

	if b.metrics != nil {
		b.metrics.inFlight.Dec()
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		b.metrics.completed.WithLabelValues(e.desc.Type.String(), outcome).Inc()
		if fromTimer {
			b.metrics.timeouts.Inc()
		}
	}

	b.cond.Broadcast()
}

// Peek is the non-blocking queue enumeration of spec §6.2: cursor 0
// starts from the oldest request; a returned nextCursor of 0 means the
// table has been fully walked. The cursor is the last-seen request id,
// not a slice position -- request ids start at 1 and b.order only ever
// holds ids in ascending order, so this stays correct even though
// completed, fully-released entries are pruned out of b.order over
// time (I-R3) and would otherwise shift positional indices out from
// under a caller's cursor.
func (b *Broker) Peek(cursor uint32) (domain.RequestDescriptor, uint32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, id := range b.order {
		if id <= cursor {
			continue
		}
		e := b.byID[id]
		next := id
		if i+1 >= len(b.order) {
			next = 0
		}
		return e.desc, next, true
	}
	return domain.RequestDescriptor{}, 0, false
}

// ForceUnmount completes every pending/in-progress request whose path
// falls under mountPrefix with ErrNotFound (spec §9 force-unmount
// resolution), waking any Trigger callers blocked on them.
func (b *Broker) ForceUnmount(mountPrefix string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, id := range b.order {
		e := b.byID[id]
		if e.desc.Done {
			continue
		}
		if !strings.HasPrefix(e.desc.Path, mountPrefix) {
			continue
		}
		logrus.Debugf("broker: force-unmounting request %d under %s", id, mountPrefix)
		b.completeLocked(id, domain.ErrNodeNotFound, false)
	}
}
