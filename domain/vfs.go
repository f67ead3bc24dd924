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

// MountRecord describes one host mount as returned by VfsEnumerateMounts
// (spec §6.1).
type MountRecord struct {
	Path        string
	FsType      string
	FsID        uint64
	Options     string
	MountedFrom string
	MountedAt   int64 // unix seconds; best-effort, 0 if the host doesn't report it
}

// VfsIface is the host-provided interception boundary (spec §6.1). It is
// explicitly out of scope to reimplement the kernel side of this -- the
// core only depends on this interface existing. Package fuseserver binds
// it to bazil.org/fuse plus golang.org/x/sys/unix mount(2)/umount2(2)
// calls; tests bind it to an in-memory fake.
type VfsIface interface {
	// VfsMountOver attaches another filesystem on top of node's path.
	VfsMountOver(path, fstype, source, options string) error

	VfsEnumerateMounts() ([]MountRecord, error)

	VfsUnmountByID(fsid uint64, force bool) error
}
