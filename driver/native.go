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
	"os/exec"

	"github.com/nestybox/mountbroker/domain"
)

// NativeExecutor is an Executor for the monolithic deployment mode,
// where the core and its helper run in the same privileged process
// (spec §9 design note: the helper channel is a transport choice, not a
// requirement). It calls mount(2) directly through domain.VfsIface
// instead of forking a mount(8) child, and falls back to
// ActionCommands/sh -c for HSM actions the way ShellExecutor does, since
// there's no syscall equivalent for an arbitrary archive/recycle/stage
// script.
type NativeExecutor struct {
	Vfs     domain.VfsIface
	Actions ActionCommands
}

func NewNativeExecutor(vfs domain.VfsIface, actions ActionCommands) *NativeExecutor {
	return &NativeExecutor{Vfs: vfs, Actions: actions}
}

func (e *NativeExecutor) Execute(ctx context.Context, req domain.WireRequest) error {
	if req.Type != domain.ReqMount {
		return e.executeAction(ctx, req)
	}

	if req.Location == "" {
		// Bare-directory leaf: nothing to mount.
		return nil
	}

	if err := e.Vfs.VfsMountOver(req.Path, fstypeOf(req.Location), req.Location, req.Options); err != nil {
		return domain.ErrWorkerFailed
	}
	return nil
}

func (e *NativeExecutor) executeAction(ctx context.Context, req domain.WireRequest) error {
	tmpl, ok := e.Actions[req.Type]
	if !ok || tmpl == "" {
		return nil
	}

	line := expandPlaceholders(tmpl, req)
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", line)
	if err := cmd.Run(); err != nil {
		return domain.ErrWorkerFailed
	}
	return nil
}
