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

package fuseserver

import (
	"context"
	"errors"
	"os"
	"syscall"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"

	"github.com/nestybox/mountbroker/domain"
)

var (
	_ fs.Node               = (*fnode)(nil)
	_ fs.NodeStringLookuper = (*fnode)(nil)
	_ fs.HandleReadDirAller = (*fnode)(nil)
	_ fs.NodeMkdirer        = (*fnode)(nil)
)

// fnode adapts one domain.NodeIface into bazil's fs.Node, the same
// wrapping role the teacher's Dir/File types play over its handler
// abstraction -- here there's no Dir/File split because every node in
// this tree is either a directory of further entries or a leaf pointing
// at an already-mounted remote target, and bazil only needs one Go type
// either way.
type fnode struct {
	n      domain.NodeIface
	server *Server
}

func (f *fnode) Attr(ctx context.Context, a *fuse.Attr) error {
	attr := f.server.mount.Tree().Getattr(f.n)
	a.Mode = os.ModeDir | os.FileMode(attr.Mode)
	a.Nlink = attr.Nlink
	a.Inode = attr.Fileid
	a.Ctime = attr.Ctime
	a.Mtime = attr.Mtime
	a.Valid = 0 // leaf state can change across a reclaim/re-trigger cycle
	return nil
}

// Lookup resolves name under f, materialising it from the map model if
// needed (nodetree.Tree.Lookup) and running the trigger gate before
// handing back a node the kernel can descend into.
func (f *fnode) Lookup(ctx context.Context, name string) (fs.Node, error) {
	tree := f.server.mount.Tree()

	child, err := tree.Lookup(f.n, name)
	if err != nil {
		return nil, toFuseErrno(err)
	}

	if child.IsLeaf() && !child.Cached() {
		if err := f.triggerWithRetry(ctx, child); err != nil {
			return nil, toFuseErrno(err)
		}
		child.SetCached(true)
		child.ResetRetries()
	}

	return &fnode{n: child, server: f.server}, nil
}

func (f *fnode) trigger(ctx context.Context, n domain.NodeIface) error {
	caller := f.server.callerFromContext(ctx)
	return f.server.broker.Trigger(
		caller,
		domain.ReqMount,
		"fuseserver",
		n.Path(),
		f.server.mount.Mountpoint(),
		n.Key(),
		n.Location(),
		n.EffectiveOptions(),
		f.server.triggerTimeout,
	)
}

// triggerWithRetry implements spec's retry policy: a trigger failure
// that isn't a signal interruption bumps n's retries counter and is
// retried up to the server's configured retryAttempts, retryDelay apart.
// Signal interruption never retries; success resets the counter's
// caller-visible value via Lookup's ResetRetries.
func (f *fnode) triggerWithRetry(ctx context.Context, n domain.NodeIface) error {
	for {
		err := f.trigger(ctx, n)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrWaitAborted) {
			return err
		}
		if n.IncRetries() > f.server.retryAttempts {
			return err
		}
		if f.server.retryDelay > 0 {
			select {
			case <-ctx.Done():
				return err
			case <-time.After(f.server.retryDelay):
			}
		}
	}
}

func (f *fnode) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	children, err := f.server.mount.Tree().Readdir(f.n)
	if err != nil {
		return nil, toFuseErrno(err)
	}

	out := make([]fuse.Dirent, 0, len(children))
	for _, c := range children {
		out = append(out, fuse.Dirent{Inode: c.Fileno(), Name: c.Key(), Type: fuse.DT_Dir})
	}
	return out, nil
}

// Mkdir is the bare-directory path: only the
// registered helper session is allowed to create a node with no map
// backing, since an ordinary caller creating arbitrary directories would
// defeat the lazy namespace entirely.
func (f *fnode) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fs.Node, error) {
	caller := f.server.callerFromContext(ctx)
	if !domain.IgnoreThread(caller, f.server.helperToken()) {
		return nil, fuse.Errno(syscall.EPERM)
	}

	child, err := f.server.mount.Tree().Mkdir(f.n, req.Name)
	if err != nil {
		return nil, toFuseErrno(err)
	}
	return &fnode{n: child, server: f.server}, nil
}
