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
	"errors"
	"syscall"

	"bazil.org/fuse"

	"github.com/nestybox/mountbroker/domain"
)

// toFuseErrno maps a domain.Errno to the syscall.Errno value bazil's
// fuse.ErrorNumber interface expects, the same role the teacher's
// fuse/error.go IOerror plays for handler errors.
func toFuseErrno(err error) fuse.Errno {
	if err == nil {
		return 0
	}

	var errno domain.Errno
	if errors.As(err, &errno) {
		switch errno {
		case domain.ErrNone:
			return 0
		case domain.ErrNotFound:
			return fuse.Errno(syscall.ENOENT)
		case domain.ErrBusy:
			return fuse.Errno(syscall.EBUSY)
		case domain.ErrInterrupted:
			return fuse.Errno(syscall.EINTR)
		case domain.ErrTimedOut:
			return fuse.Errno(syscall.ETIMEDOUT)
		case domain.ErrBadInput:
			return fuse.Errno(syscall.EINVAL)
		case domain.ErrHelperFailed:
			return fuse.Errno(syscall.EIO)
		case domain.ErrIo:
			return fuse.Errno(syscall.EIO)
		}
	}

	return fuse.Errno(syscall.EIO)
}
