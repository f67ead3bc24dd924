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

// Package driver implements component C6, the helper driver: the loop
// that pulls requests off the helper channel, turns each one into a
// host command, runs it, and reports completion. It plays the role the
// teacher's nsenter package plays for sysbox-fs -- the piece that
// actually performs a privileged action on the main process's behalf --
// but the action here is a mount(8)/umount(8) invocation (or an HSM
// action command) rather than a namespace-entering re-exec, so the
// worker loop here runs plain os/exec children instead of forking
// through runc's nsenter/libcontainer machinery.
package driver

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nestybox/mountbroker/domain"
)

// Config tunes the driver loop.
type Config struct {
	// MaxProc bounds the number of requests executed concurrently. Zero
	// means unbounded (use with care).
	MaxProc int

	// Timeout bounds each resolve-and-execute call. Zero means no
	// per-request timeout beyond ctx passed to Run.
	Timeout time.Duration
}

// Executor performs the host-side action for one request (spec §4.1
// take_next/fork/resolve_and_execute/complete loop, minus the fork --
// package driver runs children via os/exec rather than raw fork(2)).
type Executor interface {
	Execute(ctx context.Context, req domain.WireRequest) error
}

// Driver drives the take_next/resolve_and_execute/complete loop against
// a domain.HelperChannelIface. It is the helper-process counterpart of
// package broker: broker owns request state, Driver is the sole reader
// of that state via the channel.
type Driver struct {
	channel  domain.HelperChannelIface
	exec     Executor
	cfg      Config
	sem      chan struct{}
	wg       sync.WaitGroup
}

// New builds a Driver. broker-daemon passes an in-process
// *helperchan.Service as channel; exec is typically a *ShellExecutor.
func New(channel domain.HelperChannelIface, exec Executor, cfg Config) *Driver {
	d := &Driver{channel: channel, exec: exec, cfg: cfg}
	if cfg.MaxProc > 0 {
		d.sem = make(chan struct{}, cfg.MaxProc)
	}
	return d
}

// Run blocks, repeatedly calling TakeNext and dispatching each request
// to its own goroutine (bounded by Config.MaxProc), until ctx is
// cancelled. It returns ctx.Err() once every in-flight request has been
// completed, mirroring the teacher's pattern of draining outstanding
// nsenter events before a clean shutdown.
func (d *Driver) Run(ctx context.Context) error {
	for {
		req, err := d.channel.TakeNext(ctx)
		if err != nil {
			d.wg.Wait()
			return err
		}

		d.acquire()
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer d.release()
			d.handle(ctx, req)
		}()
	}
}

func (d *Driver) acquire() {
	if d.sem != nil {
		d.sem <- struct{}{}
	}
}

func (d *Driver) release() {
	if d.sem != nil {
		<-d.sem
	}
}

func (d *Driver) handle(ctx context.Context, req domain.WireRequest) {
	execCtx := ctx
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	logrus.Debugf("driver: executing request %d (%s %s)", req.ID, req.Type, req.Path)

	err := d.exec.Execute(execCtx, req)
	errCode := errnoOf(err)

	if err != nil {
		logrus.Warnf("driver: request %d failed: %v", req.ID, err)
	}

	if cerr := d.channel.Complete(req.ID, errCode); cerr != nil {
		logrus.Warnf("driver: failed to report completion of request %d: %v", req.ID, cerr)
	}
}

// errnoOf maps an Executor error to the wire error code (spec §6.2
// Done.error); nil maps to domain.ErrNone, anything unrecognised maps
// to domain.ErrHelperFailed so the trigger caller still sees a failure
// rather than a silently-successful mount.
func errnoOf(err error) int32 {
	if err == nil {
		return int32(domain.ErrNone)
	}
	if errno, ok := err.(domain.Errno); ok {
		return int32(errno)
	}
	return int32(domain.ErrHelperFailed)
}
