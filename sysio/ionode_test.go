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

package sysio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestybox/mountbroker/domain"
)

func TestIOnodeFileReadWrite(t *testing.T) {
	svc := NewIOService(domain.IOMemFileService)

	n := svc.NewIOnode("auto_home", "/etc/auto_home", 0644)
	require.NoError(t, n.WriteFile([]byte("* -rw &:/export/&\n")))

	content, err := n.ReadFile()
	require.NoError(t, err)
	assert.Equal(t, "* -rw &:/export/&\n", string(content))

	line, err := n.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "* -rw &:/export/&", line)
}

func TestIOnodeRunExecutableStubbedInMemory(t *testing.T) {
	svc := NewIOService(domain.IOMemFileService)

	n := svc.NewIOnode("-nis", "/etc/auto_special", 0755)
	require.NoError(t, n.WriteFile([]byte("alpha rw alpha:/export\n")))

	out, err := n.RunExecutable("alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha rw alpha:/export\n", string(out))
}

func TestIOnodeMkdirAllAndStat(t *testing.T) {
	svc := NewIOService(domain.IOMemFileService)

	n := svc.NewIOnode("net", "/net/host/share", 0755)
	require.NoError(t, n.MkdirAll())

	info, err := n.Stat()
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
