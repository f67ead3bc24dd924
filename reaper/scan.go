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

package reaper

import (
	"time"

	"github.com/nestybox/mountbroker/domain"
)

// lastActivity walks tree and returns the most recent Ctime seen. A
// node's Ctime is stamped when it is lazily materialised (package
// nodetree's newChild), i.e. on first lookup, so the newest Ctime in
// the tree is the closest proxy this core has for "most recent
// access" without threading a separate last-access timestamp through
// every lookup call.
func lastActivity(tree domain.NodeTreeIface) time.Time {
	root := tree.Root()
	if root == nil {
		return time.Time{}
	}

	newest := root.Ctime()
	walk(root, &newest)
	return newest
}

func walk(n domain.NodeIface, newest *time.Time) {
	if n.Ctime().After(*newest) {
		*newest = n.Ctime()
	}
	for _, c := range n.Children() {
		walk(c, newest)
	}
}
