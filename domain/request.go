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

package domain

import (
	"context"
	"time"
)

// RequestType enumerates the action kinds a request can carry (spec §3.2,
// §6.2). The numeric values match the wire protocol exactly.
type RequestType uint8

const (
	ReqMount    RequestType = 0
	ReqArchive  RequestType = 1
	ReqRecycle  RequestType = 3
	ReqRelease  RequestType = 4
	ReqStage    RequestType = 5
	ReqUnmanage RequestType = 6
)

func (t RequestType) String() string {
	switch t {
	case ReqMount:
		return "MOUNT"
	case ReqArchive:
		return "ARCHIVE"
	case ReqRecycle:
		return "RECYCLE"
	case ReqRelease:
		return "RELEASE"
	case ReqStage:
		return "STAGE"
	case ReqUnmanage:
		return "UNMANAGE"
	default:
		return "UNKNOWN"
	}
}

// Fingerprint is the deduplication key described in spec §3.2/§4.1: for
// MOUNT requests (Path, Key); for HSM actions (Type, Path).
type Fingerprint struct {
	Type RequestType
	Path string
	Key  string
}

// RequestDescriptor is what take_next hands the helper and what peek
// enumerates (spec §6.2). It is a value type so the broker can publish a
// consistent snapshot without exposing the live *Request to callers
// outside package broker.
type RequestDescriptor struct {
	ID         uint32
	Type       RequestType
	From       string
	Path       string
	Prefix     string
	Key        string
	Location   string // fully map-expanded remote location, for ReqMount
	Options    string
	Done       bool
	InProgress bool
	Error      error
	CreatedAt  time.Time
}

// BrokerIface is the public contract of the request broker (spec §4.1,
// components C3+C4). One BrokerIface instance is shared by every broker
// mount tied to the same helper session.
type BrokerIface interface {
	// Trigger posts or joins a request matching (path, key-or-component)
	// and blocks until it completes. Returns the request's terminal error
	// (nil on success). The wait cannot be interrupted by the caller: it
	// ends only when the request is completed, its timeout fires, or
	// ForceUnmount completes it.
	Trigger(caller CallerIface, reqType RequestType, from, path, prefix, key, location, options string, timeout time.Duration) error

	// TakeNext blocks until an unclaimed, unfinished request exists, marks
	// it in-progress, and returns its descriptor. ctx cancellation
	// unblocks the wait with context.Canceled.
	TakeNext(ctx context.Context) (RequestDescriptor, error)

	// Complete reports the outcome of request id. Idempotent: a repeat
	// call (or a call against an already-timed-out id) is a no-op (P8).
	Complete(id uint32, err error)

	// Peek is the non-blocking observability enumeration of §6.2's
	// queue-peek message. cursor 0 starts from the beginning; a returned
	// nextCursor of 0 means enumeration is complete.
	Peek(cursor uint32) (desc RequestDescriptor, nextCursor uint32, ok bool)

	// OpenHelperSession registers the caller identity of the single
	// permitted helper process (spec §4.1 "Helper selection"). Returns
	// ErrBusy if a session is already open.
	OpenHelperSession(token SessionToken) error

	// CloseHelperSession clears the registered session. Requests already
	// posted are left as-is (spec §4.1 "Shutdown").
	CloseHelperSession(token SessionToken) error

	// ForceUnmount completes every pending/in-progress request under
	// mountPrefix with ErrNotFound and wakes their waiters (spec §4.1
	// "Shutdown", §9 force-unmount Open Question resolution).
	ForceUnmount(mountPrefix string)
}
