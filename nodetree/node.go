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

// Package nodetree implements component C2, the lazy namespace backing
// one broker mount (spec §4.2): a tree of directory entries materialised
// on first reference rather than built up front, indexed for fast
// path lookups the way the teacher's handler package indexes handlers --
// by a github.com/hashicorp/go-immutable-radix tree keyed by path.
package nodetree

import (
	"strings"
	"sync"
	"time"

	"github.com/nestybox/mountbroker/domain"
)

var _ domain.NodeIface = (*node)(nil)

type node struct {
	mu sync.Mutex

	key      string
	path     string
	options  string
	location string
	mapName  string
	parent   *node
	children []*node

	wildcard   bool
	directRoot bool
	leaf       bool
	nobrowse   bool

	cached  bool
	retries int

	fileno domain.Inode
	ctime  time.Time
}

func (n *node) Key() string      { return n.key }
func (n *node) Path() string     { return n.path }
func (n *node) Options() string  { return n.options }
func (n *node) Location() string { return n.location }
func (n *node) Map() string      { return n.mapName }

func (n *node) Parent() domain.NodeIface {
	if n.parent == nil {
		return nil
	}
	return n.parent
}

func (n *node) Children() []domain.NodeIface {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]domain.NodeIface, len(n.children))
	for i, c := range n.children {
		out[i] = c
	}
	return out
}

func (n *node) IsWildcard() bool   { return n.wildcard }
func (n *node) IsDirectRoot() bool { return n.directRoot }
func (n *node) IsLeaf() bool       { return n.leaf }
func (n *node) Nobrowse() bool     { return n.nobrowse }

func (n *node) Cached() bool { n.mu.Lock(); defer n.mu.Unlock(); return n.cached }
func (n *node) SetCached(c bool) {
	n.mu.Lock()
	n.cached = c
	n.mu.Unlock()
}

func (n *node) Retries() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.retries
}

func (n *node) IncRetries() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.retries++
	return n.retries
}

func (n *node) ResetRetries() {
	n.mu.Lock()
	n.retries = 0
	n.mu.Unlock()
}

func (n *node) Fileno() domain.Inode { return n.fileno }
func (n *node) Ctime() time.Time     { return n.ctime }

// EffectiveOptions joins every ancestor's Options from root to n with a
// comma, the last-wins precedence spec P4 assigns to per-entry overrides
// of the map-level default.
func (n *node) EffectiveOptions() string {
	var chain []string
	for cur := n; cur != nil; cur = cur.parent {
		if cur.options != "" {
			chain = append([]string{cur.options}, chain...)
		}
	}
	return strings.Join(chain, ",")
}

func (n *node) addChild(c *node) {
	n.mu.Lock()
	n.children = append(n.children, c)
	n.mu.Unlock()
}
