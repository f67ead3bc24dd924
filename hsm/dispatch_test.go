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

package hsm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestybox/mountbroker/domain"
)

func testConfig() domain.HsmConfig {
	return domain.HsmConfig{
		Mounts: []domain.HsmMountConfig{
			{
				Mountpoint: "/scratch",
				Local:      "/backing/scratch",
				Remotes: []domain.HsmRemoteConfig{
					{Name: "s3", ArchiveExec: "true", ReleaseExec: "true", StageExec: "true", RecycleExec: "true"},
				},
			},
		},
	}
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewDispatcher(store, testConfig())
}

func TestDispatchRunsConfiguredStageAndPersistsState(t *testing.T) {
	d := newTestDispatcher(t)

	err := d.Dispatch(context.Background(), "/scratch/a", domain.ReqStage)
	require.NoError(t, err)

	rec, err := d.store.Get("/scratch/a")
	require.NoError(t, err)
	assert.Equal(t, domain.HsmUnmodified, rec.State)
	assert.False(t, rec.StagedTv.IsZero())
}

func TestDispatchRejectsUnknownMount(t *testing.T) {
	d := newTestDispatcher(t)
	err := d.Dispatch(context.Background(), "/other/a", domain.ReqStage)
	assert.ErrorIs(t, err, domain.ErrNodeNotFound)
}

func TestDispatchRejectsInvalidTransition(t *testing.T) {
	d := newTestDispatcher(t)
	err := d.Dispatch(context.Background(), "/scratch/a", domain.ReqRelease)
	assert.ErrorIs(t, err, domain.ErrHelperBusy)
}

func TestDispatchSurfacesRemoteFailure(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	cfg := domain.HsmConfig{Mounts: []domain.HsmMountConfig{{
		Mountpoint: "/scratch",
		Remotes:    []domain.HsmRemoteConfig{{Name: "s3", StageExec: "false"}},
	}}}
	d := NewDispatcher(store, cfg)

	err = d.Dispatch(context.Background(), "/scratch/a", domain.ReqStage)
	assert.ErrorIs(t, err, domain.ErrWorkerFailed)

	rec, err := store.Get("/scratch/a")
	require.NoError(t, err)
	assert.Equal(t, domain.HsmUnmanaged, rec.State, "a failed remote must not advance the persisted state")
}

func TestMarkModifiedPersistsThroughDispatcher(t *testing.T) {
	d := newTestDispatcher(t)
	require.NoError(t, d.Dispatch(context.Background(), "/scratch/a", domain.ReqStage))

	require.NoError(t, d.MarkModified("/scratch/a"))

	rec, err := d.store.Get("/scratch/a")
	require.NoError(t, err)
	assert.Equal(t, domain.HsmModified, rec.State)
}

func TestFindMountPrefersLongestMatchingPrefix(t *testing.T) {
	d := &Dispatcher{mounts: []domain.HsmMountConfig{
		{Mountpoint: "/scratch"},
		{Mountpoint: "/scratch/nested"},
	}, now: time.Now}

	m, ok := d.findMount("/scratch/nested/file")
	require.True(t, ok)
	assert.Equal(t, "/scratch/nested", m.Mountpoint)
}
