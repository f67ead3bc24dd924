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
	"syscall"
	"testing"

	"bazil.org/fuse"
	"github.com/stretchr/testify/assert"

	"github.com/nestybox/mountbroker/domain"
)

func TestToFuseErrnoMapsSentinels(t *testing.T) {
	cases := []struct {
		in   error
		want fuse.Errno
	}{
		{nil, 0},
		{domain.ErrNodeNotFound, fuse.Errno(syscall.ENOENT)},
		{domain.ErrHelperBusy, fuse.Errno(syscall.EBUSY)},
		{domain.ErrWaitAborted, fuse.Errno(syscall.EINTR)},
		{domain.ErrRequestTimeout, fuse.Errno(syscall.ETIMEDOUT)},
		{domain.ErrSyntax, fuse.Errno(syscall.EINVAL)},
		{domain.ErrWorkerFailed, fuse.Errno(syscall.EIO)},
		{domain.ErrHostIo, fuse.Errno(syscall.EIO)},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, toFuseErrno(c.in))
	}
}

func TestToFuseErrnoDefaultsUnknownErrorToEIO(t *testing.T) {
	assert.Equal(t, fuse.Errno(syscall.EIO), toFuseErrno(assert.AnError))
}
