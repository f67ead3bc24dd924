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

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestybox/mountbroker/domain"
)

func writeTestConfig(t *testing.T, mountpoint string) {
	t.Helper()
	configPath = filepath.Join(t.TempDir(), "hsm.conf")
	storeDir = t.TempDir()
	content := `mount "` + mountpoint + `" {
  remote "noop" {
    stage_exec = "true"
    archive_exec = "true"
  }
}
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))
}

func TestRunVerbStagesFileUnderConfiguredMount(t *testing.T) {
	dir := t.TempDir()
	writeTestConfig(t, dir)
	recursive = false

	f := filepath.Join(dir, "a")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0644))

	err := runVerb(domain.ReqStage, []string{f})
	assert.NoError(t, err)
}

func TestRunVerbReportsUnknownMountAsFailure(t *testing.T) {
	dir := t.TempDir()
	writeTestConfig(t, filepath.Join(dir, "configured"))
	recursive = false

	f := filepath.Join(dir, "elsewhere", "a")

	err := runVerb(domain.ReqStage, []string{f})
	assert.Error(t, err)
}

func TestRunInfoReportsZeroRecordForUnseenFile(t *testing.T) {
	dir := t.TempDir()
	writeTestConfig(t, dir)
	recursive = false

	f := filepath.Join(dir, "a")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0644))

	err := runInfo([]string{f})
	assert.NoError(t, err)
}

func TestExpandFilesWalksDirectoryWhenRecursive(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), []byte("x"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b"), []byte("x"), 0644))

	recursive = true
	defer func() { recursive = false }()

	files, err := expandFiles([]string{dir})
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestExpandFilesPassesThroughWhenNotRecursive(t *testing.T) {
	recursive = false
	files, err := expandFiles([]string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, files)
}
