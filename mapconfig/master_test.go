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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestybox/mountbroker/domain"
	"github.com/nestybox/mountbroker/sysio"
)

func writeMasterFile(t *testing.T, ios domain.IOServiceIface, path, content string) {
	t.Helper()
	n := ios.NewIOnode(path, path, 0644)
	require.NoError(t, n.WriteFile([]byte(content)))
}

func TestParseMasterBasic(t *testing.T) {
	ios := sysio.NewIOService(domain.IOMemFileService)
	writeMasterFile(t, ios, "/etc/auto_master", "/home auto_home -rw\n/net -hosts\n")

	svc := NewService(ios, nil, nil)
	entries, err := svc.ParseMaster("/etc/auto_master")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, domain.MasterEntry{Mountpoint: "/home", Map: "auto_home", Options: "rw"}, entries[0])
	assert.Equal(t, domain.MasterEntry{Mountpoint: "/net", Map: "-hosts"}, entries[1])
}

func TestParseMasterSkipsCommentsAndBlankLines(t *testing.T) {
	ios := sysio.NewIOService(domain.IOMemFileService)
	writeMasterFile(t, ios, "/etc/auto_master", "# comment\n\n/home auto_home -rw # trailing comment\n")

	svc := NewService(ios, nil, nil)
	entries, err := svc.ParseMaster("/etc/auto_master")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "auto_home", entries[0].Map)
}

func TestParseMasterExpandsInclude(t *testing.T) {
	ios := sysio.NewIOService(domain.IOMemFileService)
	writeMasterFile(t, ios, "/etc/auto_master", "+auto_master_nis\n/home auto_home\n")

	resolver := func(name string) ([]byte, error) {
		assert.Equal(t, "auto_master_nis", name)
		return []byte("/mnt/shared auto_shared -ro\n"), nil
	}

	svc := NewService(ios, resolver, nil)
	entries, err := svc.ParseMaster("/etc/auto_master")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "/mnt/shared", entries[0].Mountpoint)
	assert.Equal(t, "/home", entries[1].Mountpoint)
}

func TestParseMasterIncludeWithoutResolverFails(t *testing.T) {
	ios := sysio.NewIOService(domain.IOMemFileService)
	writeMasterFile(t, ios, "/etc/auto_master", "+auto_master_nis\n")

	svc := NewService(ios, nil, nil)
	_, err := svc.ParseMaster("/etc/auto_master")
	assert.Error(t, err)
}
