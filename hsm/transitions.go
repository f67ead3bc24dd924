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
	"time"

	"github.com/nestybox/mountbroker/domain"
)

// transition computes the next state for action against cur, or
// ErrBusy if action does not apply to cur (the Open Question resolved
// in DESIGN.md as "implement the guards, reject with EBUSY" rather than
// silently coercing an out-of-order request into a no-op).
//
//	STAGE:     OFFLINE, UNMANAGED -> UNMODIFIED
//	ARCHIVE:   MODIFIED           -> UNMODIFIED
//	           UNMODIFIED         -> UNMODIFIED (no-op: nothing to archive)
//	RELEASE:   UNMODIFIED         -> OFFLINE
//	           OFFLINE            -> OFFLINE (no-op: already released)
//	RECYCLE:   OFFLINE            -> UNMANAGED
//	           UNMANAGED          -> UNMANAGED (no-op)
//	UNMANAGE:  any                -> UNMANAGED (unconditional opt-out)
func transition(cur domain.HsmState, action domain.RequestType) (domain.HsmState, error) {
	switch action {
	case domain.ReqStage:
		switch cur {
		case domain.HsmOffline, domain.HsmUnmanaged:
			return domain.HsmUnmodified, nil
		default:
			return cur, domain.ErrHelperBusy
		}

	case domain.ReqArchive:
		switch cur {
		case domain.HsmModified, domain.HsmUnmodified:
			return domain.HsmUnmodified, nil
		default:
			return cur, domain.ErrHelperBusy
		}

	case domain.ReqRelease:
		switch cur {
		case domain.HsmUnmodified, domain.HsmOffline:
			return domain.HsmOffline, nil
		default:
			return cur, domain.ErrHelperBusy
		}

	case domain.ReqRecycle:
		switch cur {
		case domain.HsmOffline, domain.HsmUnmanaged:
			return domain.HsmUnmanaged, nil
		default:
			return cur, domain.ErrHelperBusy
		}

	case domain.ReqUnmanage:
		return domain.HsmUnmanaged, nil

	default:
		return cur, domain.ErrSyntax
	}
}

// stampTransition returns rec with the field matching action's
// completion timestamp set to at, plus the next state applied.
func stampTransition(rec domain.HsmRecord, action domain.RequestType, next domain.HsmState, at time.Time) domain.HsmRecord {
	rec.State = next
	switch action {
	case domain.ReqStage:
		rec.StagedTv = at
	case domain.ReqArchive:
		rec.ArchivedTv = at
	case domain.ReqRelease:
		rec.ReleasedTv = at
	}
	return rec
}

// markModified applies the write-intercept transition (spec §6.5:
// "write -> MODIFIED"), which isn't driven by a RequestType since it's
// triggered by a kernel write, not an explicit HSM verb. Valid from
// UNMODIFIED, and a no-op when already MODIFIED; a write while OFFLINE
// or UNMANAGED means the caller
// bypassed staging, which is a host-level bug, not a request to retry.
func markModified(rec domain.HsmRecord, at time.Time) (domain.HsmRecord, error) {
	switch rec.State {
	case domain.HsmModified:
		return rec, nil
	case domain.HsmUnmodified:
		rec.State = domain.HsmModified
		rec.ModifiedTv = at
		return rec, nil
	default:
		return rec, domain.ErrHelperBusy
	}
}
