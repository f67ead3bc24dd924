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
	"sync"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/sirupsen/logrus"

	"github.com/nestybox/mountbroker/domain"
	"github.com/nestybox/mountbroker/process"
)

var _ fs.FS = (*Server)(nil)

// Server drives one broker mount's kernel binding, the generalisation of
// the teacher's fuse.fuseServer from "host one sys container's procfs
// emulation" to "host one broker mountpoint's lazy namespace".
type Server struct {
	mount  *brokerMount
	broker domain.BrokerIface
	procs  *process.Service

	triggerTimeout time.Duration
	retryAttempts  int
	retryDelay     time.Duration

	conn     *fuse.Conn
	server   *fs.Server
	root     *fnode
	initDone chan struct{}

	mu    sync.RWMutex
	token domain.SessionToken
}

func newServer(mount *brokerMount, broker domain.BrokerIface, triggerTimeout time.Duration, retryAttempts int, retryDelay time.Duration) *Server {
	return &Server{
		mount:          mount,
		broker:         broker,
		procs:          process.NewService(),
		triggerTimeout: triggerTimeout,
		retryAttempts:  retryAttempts,
		retryDelay:     retryDelay,
		initDone:       make(chan struct{}),
	}
}

// SetHelperToken records the identity of the registered helper session
// (spec §4.1 "Helper selection") so Mkdir can gate bare-directory
// creation to it.
func (s *Server) SetHelperToken(token domain.SessionToken) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func (s *Server) helperToken() domain.SessionToken {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Server) callerFromContext(ctx context.Context) domain.CallerIface {
	req := fuse.Context(ctx)
	if req == nil {
		return s.procs.NewCaller(0, 0, 0)
	}
	return s.procs.NewCaller(uint32(req.Pid), uint32(req.Uid), uint32(req.Gid))
}

// Create prepares the server's root node; it does not yet touch the
// kernel (spec §6.1's "interception boundary" is only engaged by Run).
func (s *Server) Create() error {
	s.root = &fnode{n: s.mount.Tree().Root(), server: s}
	return nil
}

// Run mounts the FUSE filesystem at the broker mount's mountpoint and
// blocks serving kernel requests until the connection closes.
//
// The AllowOther/DefaultPermissions pairing matches the teacher's
// fuse.fuseServer.Run: unprivileged callers other than the daemon's own
// uid need to reach the mount, and the kernel -- not this process --
// decides whether a given caller may do so.
func (s *Server) Run() error {
	c, err := fuse.Mount(
		s.mount.Mountpoint(),
		fuse.FSName("mountbroker"),
		fuse.Subtype(s.mount.MapName()),
		fuse.AllowOther(),
		fuse.DefaultPermissions(),
	)
	if err != nil {
		logrus.Errorf("mount %s: %v", s.mount.Mountpoint(), err)
		return err
	}
	s.conn = c

	defer func() {
		s.Unmount()
		c.Close()
	}()

	s.server = fs.New(c, nil)
	if s.server == nil {
		return errors.New("fuse filesystem could not be created")
	}

	close(s.initDone)

	if err := s.server.Serve(s); err != nil {
		logrus.Errorf("serve %s: %v", s.mount.Mountpoint(), err)
		return err
	}

	<-c.Ready
	if err := c.MountError; err != nil {
		return err
	}
	return nil
}

// Destroy unmounts the FUSE layer. It does not tear down any remote
// mount a leaf triggered -- that is Service.Destroy's job, via VfsIface.
func (s *Server) Destroy() error {
	if err := fuse.Unmount(s.mount.Mountpoint()); err != nil {
		return err
	}
	s.server = nil
	return nil
}

func (s *Server) Root() (fs.Node, error) {
	return s.root, nil
}

func (s *Server) InitWait() {
	<-s.initDone
}

func (s *Server) MountPoint() string {
	return s.mount.Mountpoint()
}

func (s *Server) Unmount() {
	fuse.Unmount(s.mount.Mountpoint())
}
