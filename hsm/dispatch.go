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

package hsm

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nestybox/mountbroker/domain"
)

// Dispatcher drives HSM actions out to one or more remotes (spec §6.6:
// "action dispatch iterates remotes in order and short-circuits on
// first error"), updating the per-file record on success.
type Dispatcher struct {
	store  domain.HsmStateStoreIface
	mounts []domain.HsmMountConfig
	now    func() time.Time
}

func NewDispatcher(store domain.HsmStateStoreIface, cfg domain.HsmConfig) *Dispatcher {
	return &Dispatcher{store: store, mounts: cfg.Mounts, now: time.Now}
}

// Dispatch runs action against path: it resolves path to its owning
// mount/local pair, applies the state-machine guard, runs every
// configured remote's exec for action in order (stopping at the first
// failure), and persists the resulting record only if every remote
// that ran succeeded.
func (d *Dispatcher) Dispatch(ctx context.Context, path string, action domain.RequestType) error {
	mount, ok := d.findMount(path)
	if !ok {
		return domain.ErrNodeNotFound
	}

	rec, err := d.store.Get(path)
	if err != nil {
		return err
	}

	next, err := transition(rec.State, action)
	if err != nil {
		return err
	}

	relpath := d.relpath(mount, path)
	for _, remote := range mount.Remotes {
		line := execLineFor(remote, action)
		if line == "" {
			continue
		}
		if err := runRemote(ctx, line, mount.Mountpoint, relpath); err != nil {
			return domain.ErrWorkerFailed
		}
	}

	rec = stampTransition(rec, action, next, d.now())
	return d.store.Put(path, rec)
}

// MarkModified applies the write-intercept transition and persists it.
func (d *Dispatcher) MarkModified(path string) error {
	rec, err := d.store.Get(path)
	if err != nil {
		return err
	}
	rec, err = markModified(rec, d.now())
	if err != nil {
		return err
	}
	return d.store.Put(path, rec)
}

func (d *Dispatcher) findMount(path string) (domain.HsmMountConfig, bool) {
	var best domain.HsmMountConfig
	found := false
	for _, m := range d.mounts {
		if path == m.Mountpoint || strings.HasPrefix(path, m.Mountpoint+"/") {
			if !found || len(m.Mountpoint) > len(best.Mountpoint) {
				best = m
				found = true
			}
		}
	}
	return best, found
}

func (d *Dispatcher) relpath(mount domain.HsmMountConfig, path string) string {
	rel, err := filepath.Rel(mount.Mountpoint, path)
	if err != nil {
		return path
	}
	return rel
}

func execLineFor(r domain.HsmRemoteConfig, action domain.RequestType) string {
	switch action {
	case domain.ReqArchive:
		return r.ArchiveExec
	case domain.ReqRelease:
		return r.ReleaseExec
	case domain.ReqStage:
		return r.StageExec
	case domain.ReqRecycle:
		return r.RecycleExec
	default:
		return ""
	}
}

func runRemote(ctx context.Context, line, mount, relpath string) error {
	r := strings.NewReplacer("%mount", mount, "%relpath", relpath)
	expanded := r.Replace(line)

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", expanded)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		logrus.Warnf("hsm: %v: %s", err, strings.TrimSpace(stderr.String()))
		return fmt.Errorf("remote exec failed: %w", err)
	}
	return nil
}
