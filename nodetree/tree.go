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

package nodetree

import (
	"path"
	"strings"
	"sync"
	"time"

	iradix "github.com/hashicorp/go-immutable-radix"

	"github.com/nestybox/mountbroker/domain"
)

// defaultNegativeTTL bounds how long a failed lookup is remembered
// before the map model is consulted again (spec SUPPLEMENTED FEATURES
// #6): long enough to absorb a shell's repeated stat() storms, short
// enough that a map file edited and reloaded takes effect promptly.
const defaultNegativeTTL = 30 * time.Second

var _ domain.NodeTreeIface = (*Tree)(nil)

// Tree implements domain.NodeTreeIface. One Tree instance backs exactly
// one broker mount; byPath is a github.com/hashicorp/go-immutable-radix
// tree keyed by the node's full path, the same indexing idiom the
// teacher uses for its handler DB, here repurposed from "path -> handler"
// to "path -> node" so that Find resolves an absolute path in O(log n).
// Lookup and Readdir do not use the index: they walk the parent's child
// list.
type Tree struct {
	mu     sync.RWMutex
	byPath *iradix.Tree

	root      *node
	parsedMap *domain.ParsedMap
	mapSvc    domain.MapServiceIface
	direct    bool

	fsid    uint64
	nextIno domain.Inode

	negMu  sync.Mutex
	negTTL time.Duration
	neg    map[string]time.Time
}

// New builds the root node of a mount's tree. parsedMap may be nil for a
// direct-map child tree that was already fully populated by
// mapconfig.Service.Reconcile; mapSvc is consulted lazily by Lookup for
// the common indirect-map case.
func New(mountpoint string, parsedMap *domain.ParsedMap, mapSvc domain.MapServiceIface, direct bool, fsid uint64) *Tree {
	t := &Tree{
		byPath:    iradix.New(),
		parsedMap: parsedMap,
		mapSvc:    mapSvc,
		direct:    direct,
		fsid:      fsid,
		nextIno:   1,
		negTTL:    defaultNegativeTTL,
		neg:       make(map[string]time.Time),
	}

	t.root = &node{
		key:        mountpoint,
		path:       mountpoint,
		directRoot: direct,
		leaf:       false,
		cached:     true,
		fileno:     t.allocIno(),
		ctime:      time.Now(),
	}
	t.index(t.root)

	return t
}

func (t *Tree) allocIno() domain.Inode {
	ino := t.nextIno
	t.nextIno++
	return ino
}

func (t *Tree) index(n *node) {
	t.byPath, _, _ = t.byPath.Insert([]byte(n.path), n)
}

func (t *Tree) Root() domain.NodeIface { return t.root }

// Find resolves an absolute path directly against the radix index in
// O(log n), without walking Children().
func (t *Tree) Find(p string) (domain.NodeIface, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	v, ok := t.byPath.Get([]byte(p))
	if !ok {
		return nil, false
	}
	return v.(*node), true
}

// Lookup returns the child of parent named name, materialising it from
// the map model on first reference (spec §4.2, §4.3.1 item 5). A
// "/-" direct-map root never materialises lazily -- its children are all
// inserted up front by the mount-plan reconciler (spec I-N2) -- so a miss
// there is a hard not-found.
func (t *Tree) Lookup(parent domain.NodeIface, name string) (domain.NodeIface, error) {
	p, ok := parent.(*node)
	if !ok {
		return nil, domain.ErrSyntax
	}

	p.mu.Lock()
	for _, c := range p.children {
		if c.key == name {
			p.mu.Unlock()
			return c, nil
		}
	}
	p.mu.Unlock()

	negKey := p.path + "/" + name
	if p.directRoot {
		return nil, domain.ErrNodeNotFound
	}

	t.negMu.Lock()
	until, seen := t.neg[negKey]
	t.negMu.Unlock()
	if seen && time.Now().Before(until) {
		return nil, domain.ErrNodeNotFound
	}

	if t.parsedMap == nil {
		t.markNegative(negKey)
		return nil, domain.ErrNodeNotFound
	}

	mk, literal := findMapKey(t.parsedMap, name)
	isWildcard := false
	if !literal {
		mk, literal = findMapKey(t.parsedMap, "*")
		isWildcard = literal
	}
	if !literal {
		t.markNegative(negKey)
		return nil, domain.ErrNodeNotFound
	}

	target, ok := pickTarget(mk, "/")
	if !ok {
		t.markNegative(negKey)
		return nil, domain.ErrNodeNotFound
	}

	loc := target.Location
	if len(mk.Targets) <= 1 {
		loc = t.mapSvc.ExpandLocation(target.Location, name)
	} else {
		loc = "" // a multi-target key's top node is a directory; its sub-children carry the locations
	}
	child := t.newChild(p, name, target.Options, loc, "", isWildcard, mk.Nobrowse)

	if len(mk.Targets) > 1 {
		for _, tgt := range mk.Targets {
			sub := strings.TrimPrefix(tgt.Mountpoint, "/")
			if sub == "" {
				continue
			}
			subLoc := t.mapSvc.ExpandLocation(tgt.Location, name)
			t.newChild(child, sub, tgt.Options, subLoc, "", false, mk.Nobrowse)
		}
	}

	return child, nil
}

func (t *Tree) markNegative(key string) {
	t.negMu.Lock()
	t.neg[key] = time.Now().Add(t.negTTL)
	t.negMu.Unlock()
}

// Readdir returns a parent's materialised children in insertion order.
// Nodes flagged Nobrowse that have never been looked up (never cached)
// are omitted (spec SUPPLEMENTED FEATURES #2). The list holds no "." or
// ".." entry, and fuseserver's ReadDirAll does not add them either.
func (t *Tree) Readdir(n domain.NodeIface) ([]domain.NodeIface, error) {
	p, ok := n.(*node)
	if !ok {
		return nil, domain.ErrSyntax
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]domain.NodeIface, 0, len(p.children))
	for _, c := range p.children {
		if c.nobrowse && !c.Cached() {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (t *Tree) Getattr(n domain.NodeIface) domain.NodeAttr {
	p := n.(*node)
	return domain.NodeAttr{
		Mode:   0755,
		Nlink:  3,
		Fsid:   t.fsid,
		Fileid: p.Fileno(),
		Ctime:  p.Ctime(),
		Mtime:  p.Ctime(),
	}
}

// Mkdir creates a plain directory child with no map-model backing --
// used for the helper session's mkdir-only path when a wildcard entry
// resolves to a bare mountpoint with no remote location.
func (t *Tree) Mkdir(parent domain.NodeIface, name string) (domain.NodeIface, error) {
	p, ok := parent.(*node)
	if !ok {
		return nil, domain.ErrSyntax
	}
	return t.newChild(p, name, "", "", "", false, false), nil
}

// Reclaim releases a node's backing identity without freeing the node
// itself (I-N5): a subsequent Lookup under its parent still finds it,
// but it is no longer considered mounted until re-triggered.
func (t *Tree) Reclaim(n domain.NodeIface) error {
	p, ok := n.(*node)
	if !ok {
		return domain.ErrSyntax
	}
	p.SetCached(false)
	p.ResetRetries()
	return nil
}

// Insert adds a fully-formed node (used while building a tree from a
// parsed map's top-level keys, and by direct-map child population).
func (t *Tree) Insert(parent domain.NodeIface, key, options, location, mapName string, wildcard, nobrowse bool) (domain.NodeIface, error) {
	p, ok := parent.(*node)
	if !ok {
		return nil, domain.ErrSyntax
	}
	return t.newChild(p, key, options, location, mapName, wildcard, nobrowse), nil
}

// newChild materialises a child under parent. A node with a Location
// and no Map (I-N3's leaf definition) is a real mount target: it
// starts uncached so fuseserver knows to run it through the trigger
// gate on first access; every other node (directories, the root) is
// considered live the moment it is materialised.
func (t *Tree) newChild(parent *node, key, options, location, mapName string, wildcard, nobrowse bool) *node {
	t.mu.Lock()
	ino := t.allocIno()
	t.mu.Unlock()

	leaf := location != "" && mapName == ""

	c := &node{
		key:      key,
		path:     path.Join(parent.path, key),
		options:  options,
		location: location,
		mapName:  mapName,
		parent:   parent,
		wildcard: wildcard,
		nobrowse: nobrowse,
		leaf:     leaf,
		cached:   !leaf,
		fileno:   ino,
		ctime:    time.Now(),
	}

	parent.addChild(c)
	t.index(c)

	return c
}

func findMapKey(m *domain.ParsedMap, key string) (domain.MapKey, bool) {
	for _, mk := range m.Keys {
		if mk.Key == key {
			return mk, true
		}
	}
	return domain.MapKey{}, false
}

func pickTarget(mk domain.MapKey, mountFragment string) (domain.MapTarget, bool) {
	for _, t := range mk.Targets {
		if t.Mountpoint == mountFragment {
			return t, true
		}
	}
	if len(mk.Targets) > 0 {
		return mk.Targets[0], true
	}
	return domain.MapTarget{}, false
}
