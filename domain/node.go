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

package domain

import "time"

// Inode is a stable per-mount integer identity (spec §3.1 fileno). It is
// never reused while the owning tree is alive (I-N4).
type Inode = uint64

// NodeAttr carries the synthetic directory attributes returned by
// Getattr (spec §4.2).
type NodeAttr struct {
	Mode   uint32 // 0755 for directories
	Nlink  uint32 // 3 for every node
	Fsid   uint64
	Fileid Inode
	Ctime  time.Time
	Mtime  time.Time
}

// NodeIface represents a single name in a broker-controlled directory tree
// (spec §3.1). Implementations live in package nodetree; domain only
// describes the shape so that mapconfig, broker and fuseserver can all
// depend on it without importing nodetree.
type NodeIface interface {
	Key() string
	Path() string
	Options() string
	EffectiveOptions() string // ','-join of ancestors' options, root to node (P4)
	Location() string
	Map() string
	Parent() NodeIface
	Children() []NodeIface
	IsWildcard() bool
	IsDirectRoot() bool // key == "/-" (I-N2)
	IsLeaf() bool        // has Location, no Map (I-N3)
	Cached() bool
	SetCached(bool)
	Retries() int
	IncRetries() int
	ResetRetries()
	Fileno() Inode
	Ctime() time.Time
	Nobrowse() bool // spec SUPPLEMENTED FEATURES #2
}

// NodeTreeIface is the public contract of the lazy namespace (spec §4.2,
// component C2). One NodeTreeIface instance backs exactly one broker
// mount.
type NodeTreeIface interface {
	Root() NodeIface

	// Lookup returns the child of parent named name, creating it from a
	// matching wildcard sibling on first reference. It does not itself run
	// the trigger gate -- that is layered on top by broker+fuseserver.
	Lookup(parent NodeIface, name string) (NodeIface, error)

	// Readdir returns children in insertion order (spec §4.2, P7); it
	// adds no "." or ".." entries. Nodes flagged Nobrowse that have never
	// been looked up are omitted (SUPPLEMENTED FEATURES #2).
	Readdir(n NodeIface) ([]NodeIface, error)

	Getattr(n NodeIface) NodeAttr

	// Mkdir is permitted only for the helper session (or its descendants);
	// callers must have already checked IgnoreThread against the helper
	// session token.
	Mkdir(parent NodeIface, name string) (NodeIface, error)

	// Reclaim releases the backing identity of a node without freeing the
	// node itself (I-N5).
	Reclaim(n NodeIface) error

	// Insert adds a fully-formed node from the map model (used while
	// building the tree from a parsed map, and by direct-map expansion).
	Insert(parent NodeIface, key, options, location, mapName string, wildcard, nobrowse bool) (NodeIface, error)
}
