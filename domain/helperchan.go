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

import "context"

// WireRequest is the "give me one" message of spec §6.2. Field sizes are
// documented there; this implementation doesn't enforce the byte caps
// (≤1024B/≤256B) at the type level, and helperchan's JSON codec does not
// check them either: oversized fields pass through unchanged.
type WireRequest struct {
	ID       uint32
	Type     RequestType
	From     string
	Path     string
	Prefix   string
	Key      string
	Location string
	Options  string
}

// WireDone is the helper's completion report (spec §6.2). Idempotent
// against an id that has already been completed or timed out.
type WireDone struct {
	ID    uint32
	Error int32
}

// WirePeek is the observability queue-peek request/response pair (spec
// §6.2).
type WirePeekRequest struct {
	CursorIn uint32
}

type WirePeekResponse struct {
	ID         uint32
	NextCursor uint32
	Done       bool
	InProgress bool
	Type       RequestType
	Path       string
}

// HelperChannelIface is the boundary to the privileged helper process
// (spec §4.1, §6.2, component C5). It is deliberately narrow: one
// blocking "take next", one "report completion", one non-blocking
// "peek". The concrete transport (package helperchan) binds this to a
// gRPC service; the broker (package broker) is the implementation that
// satisfies request semantics.
type HelperChannelIface interface {
	TakeNext(ctx context.Context) (WireRequest, error)
	Complete(id uint32, errCode int32) error
	Peek(cursorIn uint32) (WirePeekResponse, error)
}
