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

// Package reaper implements component C7, the periodic reaper: a
// background pass that force-unmounts broker mounts whose node tree has
// seen no fresh activity for longer than an idle window. Structurally
// it is the teacher's nsenter zombieReaper turned inside out -- that
// one wakes on a signal channel and reaps exited children; this one
// wakes on a ticker and reaps idle mounts -- but the "one goroutine,
// one lock-protected pass, log what got reaped" shape is the same.
package reaper

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nestybox/mountbroker/domain"
)

// Config tunes the reaper pass.
type Config struct {
	// Idle is how long a mount's tree can go without a fresh node
	// materialising before it is considered eligible for reaping.
	Idle time.Duration

	// Interval is how often a sweep runs.
	Interval time.Duration
}

// Reaper periodically force-unmounts idle broker mounts (spec §4.1
// "Shutdown"/"ForceUnmount" reused here as the reclaim mechanism, spec
// §9 reaper design note).
type Reaper struct {
	mounts domain.BrokerMountServiceIface
	cfg    Config
	now    func() time.Time
}

// New builds a Reaper against mounts. now defaults to time.Now; tests
// override it to make idle windows deterministic.
func New(mounts domain.BrokerMountServiceIface, cfg Config) *Reaper {
	return &Reaper{mounts: mounts, cfg: cfg, now: time.Now}
}

// Run blocks, sweeping every Config.Interval, until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep runs one reaping pass synchronously; Run calls it on every
// tick, and tests call it directly to avoid waiting on a real ticker.
func (r *Reaper) Sweep() {
	now := r.now()

	for _, m := range r.mounts.All() {
		tree := m.Tree()
		if tree == nil {
			continue
		}

		last := lastActivity(tree)
		idleFor := now.Sub(last)
		if idleFor < r.cfg.Idle {
			continue
		}

		logrus.Infof("reaper: unmounting %s, idle for %s", m.Mountpoint(), idleFor)
		if err := r.mounts.Destroy(m.Mountpoint()); err != nil {
			logrus.Warnf("reaper: failed to unmount %s: %v", m.Mountpoint(), err)
		}
	}
}
