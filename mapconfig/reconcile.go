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

package mapconfig

import (
	"github.com/hashicorp/go-multierror"

	"github.com/nestybox/mountbroker/domain"
)

// Reconcile drives mounts to match entries (spec §4.3.3): every master
// entry not already backed by a matching BrokerMountIface is created (or
// recreated, if its map/options changed); every live mount with no
// corresponding entry is force-unmounted. Each direct map ("/-", spec
// I-N2) contributes one BrokerMountIface per child path rather than one
// for the "/-" mountpoint itself. Failures accumulate in a
// *multierror.Error so one bad entry never stops the rest of the plan
// from applying.
func (s *Service) Reconcile(entries []domain.MasterEntry, mounts domain.BrokerMountServiceIface) error {
	want := make(map[string]domain.MasterEntry)
	var result error

	for _, e := range entries {
		if e.IsInclude() {
			// ParseMaster already spliced includes in place; a surviving
			// IsInclude entry means expansion was skipped upstream.
			continue
		}

		if e.Mountpoint == directMapKey {
			pm, err := s.ParseMap(e.Map)
			if err != nil {
				result = multierror.Append(result, err)
				continue
			}
			for _, mk := range pm.Keys {
				child := domain.MasterEntry{Mountpoint: mk.Key, Map: e.Map, Options: e.Options}
				want[child.Mountpoint] = child
				if err := s.reconcileOne(child, mounts, true); err != nil {
					result = multierror.Append(result, err)
				}
			}
			continue
		}

		want[e.Mountpoint] = e
		if err := s.reconcileOne(e, mounts, false); err != nil {
			result = multierror.Append(result, err)
		}
	}

	for _, existing := range mounts.All() {
		if _, ok := want[existing.Mountpoint()]; ok {
			continue
		}
		if err := mounts.Destroy(existing.Mountpoint()); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result
}

func (s *Service) reconcileOne(e domain.MasterEntry, mounts domain.BrokerMountServiceIface, direct bool) error {
	existing, ok := mounts.Lookup(e.Mountpoint)
	if ok {
		if existing.MapName() == e.Map && existing.Options() == e.Options {
			return nil
		}
		if err := mounts.Destroy(e.Mountpoint); err != nil {
			return err
		}
	}

	_, err := mounts.Create(e.Mountpoint, e.Map, e.Options, direct)
	return err
}
