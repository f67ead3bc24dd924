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

// Package helperchan implements component C5, the helper channel (spec
// §4.1, §6.2): the transport boundary between the broker core and the
// privileged helper driver. There is no .proto source in this tree --
// the three messages the channel carries (WireRequest, WireDone,
// WirePeekRequest/WirePeekResponse) are already plain Go structs in
// package domain, so this package registers a JSON grpc.Codec and hand
// writes the grpc.ServiceDesc a generator would otherwise emit, rather
// than fabricating protobuf-generated code for three small messages.
package helperchan

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

const jsonCodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return jsonCodecName }
