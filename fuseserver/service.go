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
	"fmt"
	"hash/fnv"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nestybox/mountbroker/domain"
	"github.com/nestybox/mountbroker/nodetree"
)

var _ domain.BrokerMountServiceIface = (*Service)(nil)

// Service implements domain.BrokerMountServiceIface, the generalisation
// of the teacher's fuse.FuseServerService from "one fuse server per sys
// container" to "one fuse server per broker mount" (spec §4.3.2/§4.3.3
// mount-plan reconciliation).
type Service struct {
	mu    sync.RWMutex
	mnts  map[string]*brokerMount
	srvs  map[string]*Server

	vfs    domain.VfsIface
	ios    domain.IOServiceIface
	mapSvc domain.MapServiceIface
	broker domain.BrokerIface

	triggerTimeout time.Duration
	retryAttempts  int
	retryDelay     time.Duration
}

// NewService builds a Service; triggerTimeout bounds how long Lookup
// blocks waiting for the helper to service a MOUNT request before
// surfacing ETIMEDOUT to the kernel. retryAttempts/retryDelay implement
// spec's HSM-variant retry policy: after a failed trigger that wasn't a
// signal interruption, a leaf is retried up to retryAttempts more times,
// retryDelay apart, before the failure is surfaced to the kernel.
func NewService(triggerTimeout time.Duration, retryAttempts int, retryDelay time.Duration) *Service {
	return &Service{
		mnts:           make(map[string]*brokerMount),
		srvs:           make(map[string]*Server),
		triggerTimeout: triggerTimeout,
		retryAttempts:  retryAttempts,
		retryDelay:     retryDelay,
	}
}

func (s *Service) Setup(vfs domain.VfsIface, ios domain.IOServiceIface, mapSvc domain.MapServiceIface, broker domain.BrokerIface) {
	s.vfs = vfs
	s.ios = ios
	s.mapSvc = mapSvc
	s.broker = broker
}

// Create mounts mp backed by mapName (spec §4.3.2): the map is parsed
// and expanded once up front, a nodetree.Tree is built from it, and a
// FUSE server is started to host that tree at mp.
func (s *Service) Create(mp, mapName, options string, direct bool) (domain.BrokerMountIface, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mnts[mp]; ok {
		return nil, fmt.Errorf("broker mount already present: %s", mp)
	}

	if err := os.MkdirAll(mp, 0755); err != nil {
		return nil, err
	}

	var parsed *domain.ParsedMap
	if mapName != "" {
		p, err := s.mapSvc.ParseMap(mapName)
		if err != nil {
			return nil, err
		}
		parsed = p
	} else {
		parsed = &domain.ParsedMap{Name: mapName}
	}

	bm := &brokerMount{
		mountpoint: mp,
		mapName:    mapName,
		options:    options,
		direct:     direct,
		ctime:      time.Now(),
	}

	tree := s.newTree(bm, parsed)
	bm.SetTree(tree)

	srv := newServer(bm, s.broker, s.triggerTimeout, s.retryAttempts, s.retryDelay)
	bm.server = srv

	if err := srv.Create(); err != nil {
		return nil, err
	}

	go func() {
		if err := srv.Run(); err != nil {
			logrus.Errorf("fuse server for %s exited: %v", mp, err)
		}
	}()
	srv.InitWait()

	s.mnts[mp] = bm
	s.srvs[mp] = srv

	logrus.Infof("created broker mount %s (map %s)", mp, mapName)

	return bm, nil
}

func (s *Service) newTree(bm *brokerMount, parsed *domain.ParsedMap) domain.NodeTreeIface {
	h := fnv.New64a()
	h.Write([]byte(bm.mountpoint))
	return nodetree.New(bm.mountpoint, parsed, s.mapSvc, bm.direct, h.Sum64())
}

func (s *Service) Lookup(mp string) (domain.BrokerMountIface, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bm, ok := s.mnts[mp]
	return bm, ok
}

func (s *Service) All() []domain.BrokerMountIface {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.BrokerMountIface, 0, len(s.mnts))
	for _, bm := range s.mnts {
		out = append(out, bm)
	}
	return out
}

// Destroy force-unmounts mp (spec §9 force-unmount resolution):
// in-flight requests under mp are completed with ErrNotFound, any
// remote mounts the tree ever triggered are detached via VfsIface, and
// the FUSE server itself is torn down.
func (s *Service) Destroy(mp string) error {
	s.mu.Lock()
	bm, ok := s.mnts[mp]
	srv, srvOk := s.srvs[mp]
	if !ok || !srvOk {
		s.mu.Unlock()
		return domain.ErrNodeNotFound
	}
	delete(s.mnts, mp)
	delete(s.srvs, mp)
	s.mu.Unlock()

	s.broker.ForceUnmount(mp)

	if s.vfs != nil {
		if mounts, err := s.vfs.VfsEnumerateMounts(); err == nil {
			for _, m := range mounts {
				if m.Path == mp || hasPrefix(m.Path, mp+"/") {
					if err := s.vfs.VfsUnmountByID(m.FsID, true); err != nil {
						logrus.Warnf("force unmount %s: %v", m.Path, err)
					}
				}
			}
		}
	}

	if err := srv.Destroy(); err != nil {
		return err
	}

	if err := os.Remove(mp); err != nil {
		logrus.Warnf("remove mountpoint %s: %v", mp, err)
	}

	logrus.Infof("destroyed broker mount %s", mp)
	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
