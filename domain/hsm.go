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

// HsmState is the per-file state machine of spec §6.5.
type HsmState uint8

const (
	HsmUnmanaged HsmState = 0
	HsmOffline   HsmState = 1
	HsmUnmodified HsmState = 2
	HsmModified  HsmState = 3
)

func (s HsmState) String() string {
	switch s {
	case HsmUnmanaged:
		return "UNMANAGED"
	case HsmOffline:
		return "OFFLINE"
	case HsmUnmodified:
		return "UNMODIFIED"
	case HsmModified:
		return "MODIFIED"
	default:
		return "UNKNOWN"
	}
}

// HsmRecord is the fixed-layout record spec §6.5 describes as living in a
// reserved extended attribute. Package hsm persists it in a bbolt bucket
// keyed by absolute path instead (see DESIGN.md for why) but the field
// layout below is unchanged from the spec.
type HsmRecord struct {
	State         HsmState
	StagedTv      time.Time
	ModifiedTv    time.Time
	ArchivedTv    time.Time
	ReleasedTv    time.Time
	Ctime         time.Time
	OfflineNlink  uint32
	OfflineSize   uint64
	OfflineBytes  uint64
}

// ZeroRecord is what a file with no stored record is treated as (spec
// §6.5: "A file with no such extended attribute is treated as UNMANAGED
// with a zeroed record").
func ZeroRecord() HsmRecord {
	return HsmRecord{State: HsmUnmanaged}
}

// HsmStateStoreIface is the durable backing store for HsmRecord (spec
// §6.5). Keyed by absolute path.
type HsmStateStoreIface interface {
	Get(path string) (HsmRecord, error)
	Put(path string, rec HsmRecord) error
	Delete(path string) error
	Close() error
}

// HsmRemoteConfig is one `remote "name" { ... }` block of spec §6.6.
type HsmRemoteConfig struct {
	Name        string
	ArchiveExec string
	ReleaseExec string
	StageExec   string
	RecycleExec string
}

// HsmMountConfig is one `mount "/path" { ... }` block of spec §6.6.
type HsmMountConfig struct {
	Mountpoint string
	Local      string
	Remotes    []HsmRemoteConfig
}

// HsmConfig is the top-level parse of spec §6.6.
type HsmConfig struct {
	PidFile string
	MaxProc int
	Mounts  []HsmMountConfig
}
