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
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/nestybox/mountbroker/domain"
)

// Vfs implements domain.VfsIface against the real host kernel, the
// generalisation of the teacher's mount/helper.go (which parses
// /proc/pid/mountinfo and converts its flag strings to/from the
// golang.org/x/sys/unix MS_* constants) from "enumerate a container's
// bind mounts" to "enumerate and drive the broker's own mount points".
type Vfs struct {
	mountinfoPath string // overridable by tests; "/proc/self/mountinfo" in production
}

func NewVfs() *Vfs {
	return &Vfs{mountinfoPath: "/proc/self/mountinfo"}
}

// VfsMountOver attaches fstype at path, sourced from source, with the
// comma-separated options string passed through as-is (spec §6.1): the
// driver has already expanded the map location into a concrete source
// by the time this is called, so this is a thin wrapper over mount(2).
func (v *Vfs) VfsMountOver(path, fstype, source, options string) error {
	var flags uintptr
	data := options

	if fstype == "none" || fstype == "bind" {
		flags |= unix.MS_BIND
		fstype = ""
	}

	if err := unix.Mount(source, path, fstype, flags, data); err != nil {
		return fmt.Errorf("mount %s on %s: %w", source, path, err)
	}
	return nil
}

// VfsUnmountByID looks up the live mount whose FsID matches fsid and
// unmounts it, forcing detach if force is set (spec §9 force-unmount
// resolution, used by BrokerMountServiceIface.Destroy).
func (v *Vfs) VfsUnmountByID(fsid uint64, force bool) error {
	mounts, err := v.VfsEnumerateMounts()
	if err != nil {
		return err
	}

	for _, m := range mounts {
		if m.FsID != fsid {
			continue
		}
		var flags int
		if force {
			flags = unix.MNT_FORCE
		}
		if err := unix.Unmount(m.Path, flags); err != nil {
			return fmt.Errorf("unmount %s: %w", m.Path, err)
		}
		return nil
	}
	return domain.ErrNodeNotFound
}

// VfsEnumerateMounts parses /proc/self/mountinfo the way the teacher's
// mount.newMountInfoParser does for /proc/<pid>/mountinfo, trimmed down
// to the fields the reaper and force-unmount path need: path, fstype,
// source and a stable per-mount id.
func (v *Vfs) VfsEnumerateMounts() ([]domain.MountRecord, error) {
	f, err := os.Open(v.mountinfoPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []domain.MountRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		rec, ok := parseMountinfoLine(scanner.Text())
		if ok {
			out = append(out, rec)
		}
	}
	return out, scanner.Err()
}

// parseMountinfoLine parses one /proc/pid/mountinfo record:
//
//	36 35 98:0 /mnt1 /mnt1 rw,noatime master:1 - ext3 /dev/root rw,errors=continue
//
// fields up to "-" are mountID parentID major:minor root mountPoint
// options [optional fields...]; after "-" come fsType, mountSource,
// superOptions (spec §6.1's MountRecord only needs a subset of these).
func parseMountinfoLine(line string) (domain.MountRecord, bool) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return domain.MountRecord{}, false
	}

	sep := -1
	for i, f := range fields {
		if f == "-" {
			sep = i
			break
		}
	}
	if sep < 0 || sep+3 >= len(fields) {
		return domain.MountRecord{}, false
	}

	mountID, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return domain.MountRecord{}, false
	}

	return domain.MountRecord{
		Path:        fields[4],
		FsType:      fields[sep+1],
		FsID:        mountID,
		Options:     fields[5],
		MountedFrom: fields[sep+2],
	}, true
}
