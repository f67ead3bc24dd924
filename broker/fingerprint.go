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

package broker

import "github.com/nestybox/mountbroker/domain"

// newFingerprint builds the dedup key spec §3.2/§4.1 describes: a MOUNT
// request dedupes on (path, key) -- two lookups of the same directory
// entry join the same request -- while every HSM action dedupes on
// (type, path) alone, since a stage/release/archive/recycle/unmanage
// request has no separate lookup key.
func newFingerprint(reqType domain.RequestType, path, key string) domain.Fingerprint {
	if reqType == domain.ReqMount {
		return domain.Fingerprint{Type: reqType, Path: path, Key: key}
	}
	return domain.Fingerprint{Type: reqType, Path: path}
}
