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

// BrokerMountIface represents one live virtual directory created from an
// indirect map entry, or one child of a direct map (spec §4.3.2, §4.3.3).
// It plays the role the teacher's ContainerIface plays for a sys
// container: the thing that owns a node tree and a FUSE server instance.
type BrokerMountIface interface {
	ID() string // mountpoint path; unique per BrokerMountIface
	Mountpoint() string
	MapName() string
	Options() string
	Direct() bool
	Ctime() time.Time
	Tree() NodeTreeIface
	SetTree(NodeTreeIface)
}

// BrokerMountServiceIface tracks every live BrokerMountIface (spec
// §4.3.3 mount-plan reconciliation) and owns the FUSE-server lifecycle
// backing each one -- the generalisation of the teacher's
// FuseServerServiceIface/ContainerStateServiceIface pair collapsed into
// one role, since this core has no notion of sys containers.
type BrokerMountServiceIface interface {
	Setup(vfs VfsIface, ios IOServiceIface, mapSvc MapServiceIface, broker BrokerIface)

	// Create mounts mp backed by mapName (creating the mountpoint
	// directory if missing) and returns the new BrokerMountIface.
	Create(mp, mapName, options string, direct bool) (BrokerMountIface, error)

	Lookup(mp string) (BrokerMountIface, bool)
	All() []BrokerMountIface

	// Destroy force-unmounts mp, completing its pending requests with
	// ErrNotFound (spec §9 force-unmount resolution) before tearing down
	// the FUSE server.
	Destroy(mp string) error
}
