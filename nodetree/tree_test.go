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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestybox/mountbroker/domain"
)

// fakeMapService implements just enough of domain.MapServiceIface for
// tree tests: ExpandLocation is the only method Tree calls at lookup
// time.
type fakeMapService struct{}

func (fakeMapService) ParseMaster(string) ([]domain.MasterEntry, error) { return nil, nil }
func (fakeMapService) ParseMap(string) (*domain.ParsedMap, error)       { return nil, nil }
func (fakeMapService) ResolveKey(*domain.ParsedMap, string, string) (domain.MapTarget, bool) {
	return domain.MapTarget{}, false
}
func (fakeMapService) ExpandLocation(location, key string) string {
	result := ""
	for i := 0; i < len(location); i++ {
		if location[i] == '&' {
			result += key
			continue
		}
		result += string(location[i])
	}
	return result
}

func TestLookupMaterializesWildcard(t *testing.T) {
	pm := &domain.ParsedMap{
		Name: "auto_home",
		Keys: []domain.MapKey{
			{Key: "*", Wildcard: true, Targets: []domain.MapTarget{{Mountpoint: "/", Location: "server:/export/&"}}},
		},
	}
	tr := New("/home", pm, fakeMapService{}, false, 42)

	n, err := tr.Lookup(tr.Root(), "jdoe")
	require.NoError(t, err)
	assert.Equal(t, "server:/export/jdoe", n.Location())
	assert.True(t, n.IsWildcard())
	assert.True(t, n.IsLeaf())

	// Second lookup hits the materialised child, not the map model.
	again, err := tr.Lookup(tr.Root(), "jdoe")
	require.NoError(t, err)
	assert.Equal(t, n.Fileno(), again.Fileno())
}

func TestLookupMissIsNegativelyCached(t *testing.T) {
	pm := &domain.ParsedMap{Name: "auto_home"}
	tr := New("/home", pm, fakeMapService{}, false, 1)

	_, err := tr.Lookup(tr.Root(), "nosuch")
	assert.ErrorIs(t, err, domain.ErrNodeNotFound)

	tr.negTTL = 0 // the entry recorded above keeps its original expiry, so this lookup is answered from the negative cache
	_, err = tr.Lookup(tr.Root(), "nosuch")
	assert.ErrorIs(t, err, domain.ErrNodeNotFound)
}

func TestDirectRootNeverMaterialisesLazily(t *testing.T) {
	tr := New("/-", nil, fakeMapService{}, true, 2)

	_, err := tr.Lookup(tr.Root(), "/mnt/extra")
	assert.ErrorIs(t, err, domain.ErrNodeNotFound)

	child, err := tr.Insert(tr.Root(), "/mnt/extra", "rw", "host:/export/extra", "", false, false)
	require.NoError(t, err)

	found, err := tr.Lookup(tr.Root(), "/mnt/extra")
	require.NoError(t, err)
	assert.Equal(t, child.Fileno(), found.Fileno())
}

func TestReaddirOmitsUncachedNobrowse(t *testing.T) {
	pm := &domain.ParsedMap{}
	tr := New("/net", pm, fakeMapService{}, false, 3)

	_, err := tr.Insert(tr.Root(), "visible", "", "host:/export/visible", "", false, false)
	require.NoError(t, err)
	hidden, err := tr.Insert(tr.Root(), "hidden", "", "host:/export/hidden", "", false, true)
	require.NoError(t, err)

	entries, err := tr.Readdir(tr.Root())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "visible", entries[0].Key())

	hidden.SetCached(true)
	entries, err = tr.Readdir(tr.Root())
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestEffectiveOptionsJoinsAncestors(t *testing.T) {
	tr := New("/home", &domain.ParsedMap{}, fakeMapService{}, false, 4)
	tr.Root().(*node).options = "rw"

	child, err := tr.Insert(tr.Root(), "jdoe", "nosuid", "host:/export/jdoe", "", false, false)
	require.NoError(t, err)

	assert.Equal(t, "rw,nosuid", child.EffectiveOptions())
}

func TestGetattrNlinkIsThree(t *testing.T) {
	tr := New("/home", &domain.ParsedMap{}, fakeMapService{}, false, 5)
	_, err := tr.Insert(tr.Root(), "jdoe", "", "host:/export/jdoe", "", false, false)
	require.NoError(t, err)

	attr := tr.Getattr(tr.Root())
	assert.Equal(t, uint32(3), attr.Nlink)
}

func TestFindResolvesByPath(t *testing.T) {
	tr := New("/home", &domain.ParsedMap{}, fakeMapService{}, false, 6)
	child, err := tr.Insert(tr.Root(), "jdoe", "", "host:/export/jdoe", "", false, false)
	require.NoError(t, err)

	found, ok := tr.Find("/home/jdoe")
	require.True(t, ok)
	assert.Equal(t, child.Fileno(), found.Fileno())
}
