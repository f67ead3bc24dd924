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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nestybox/mountbroker/domain"
)

func TestTransitionStageBringsOfflineOrUnmanagedOnline(t *testing.T) {
	next, err := transition(domain.HsmOffline, domain.ReqStage)
	assert.NoError(t, err)
	assert.Equal(t, domain.HsmUnmodified, next)

	next, err = transition(domain.HsmUnmanaged, domain.ReqStage)
	assert.NoError(t, err)
	assert.Equal(t, domain.HsmUnmodified, next)
}

func TestTransitionStageRejectsAlreadyOnlineFile(t *testing.T) {
	_, err := transition(domain.HsmUnmodified, domain.ReqStage)
	assert.ErrorIs(t, err, domain.ErrHelperBusy)

	_, err = transition(domain.HsmModified, domain.ReqStage)
	assert.ErrorIs(t, err, domain.ErrHelperBusy)
}

func TestTransitionArchiveRequiresOnlineFile(t *testing.T) {
	next, err := transition(domain.HsmModified, domain.ReqArchive)
	assert.NoError(t, err)
	assert.Equal(t, domain.HsmUnmodified, next)

	_, err = transition(domain.HsmOffline, domain.ReqArchive)
	assert.ErrorIs(t, err, domain.ErrHelperBusy)
}

func TestTransitionReleaseRequiresUnmodified(t *testing.T) {
	next, err := transition(domain.HsmUnmodified, domain.ReqRelease)
	assert.NoError(t, err)
	assert.Equal(t, domain.HsmOffline, next)

	_, err = transition(domain.HsmModified, domain.ReqRelease)
	assert.ErrorIs(t, err, domain.ErrHelperBusy)
}

func TestTransitionRecycleRequiresOffline(t *testing.T) {
	next, err := transition(domain.HsmOffline, domain.ReqRecycle)
	assert.NoError(t, err)
	assert.Equal(t, domain.HsmUnmanaged, next)

	_, err = transition(domain.HsmUnmodified, domain.ReqRecycle)
	assert.ErrorIs(t, err, domain.ErrHelperBusy)
}

func TestTransitionUnmanageIsUnconditional(t *testing.T) {
	for _, s := range []domain.HsmState{domain.HsmUnmanaged, domain.HsmOffline, domain.HsmUnmodified, domain.HsmModified} {
		next, err := transition(s, domain.ReqUnmanage)
		assert.NoError(t, err)
		assert.Equal(t, domain.HsmUnmanaged, next)
	}
}

func TestMarkModifiedTransitionsUnmodifiedToModified(t *testing.T) {
	rec := domain.HsmRecord{State: domain.HsmUnmodified}
	now := time.Now()

	got, err := markModified(rec, now)
	assert.NoError(t, err)
	assert.Equal(t, domain.HsmModified, got.State)
	assert.Equal(t, now, got.ModifiedTv)
}

func TestMarkModifiedRejectsWriteToOfflineFile(t *testing.T) {
	rec := domain.HsmRecord{State: domain.HsmOffline}
	_, err := markModified(rec, time.Now())
	assert.ErrorIs(t, err, domain.ErrHelperBusy)
}

func TestMarkModifiedIsIdempotentOnceModified(t *testing.T) {
	rec := domain.HsmRecord{State: domain.HsmModified}
	got, err := markModified(rec, time.Now())
	assert.NoError(t, err)
	assert.Equal(t, domain.HsmModified, got.State)
}
