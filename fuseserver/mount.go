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
	"time"

	"github.com/nestybox/mountbroker/domain"
)

var _ domain.BrokerMountIface = (*brokerMount)(nil)

// brokerMount is the fuseserver-side record of one live virtual
// directory (spec §4.3.2/§4.3.3), pairing a nodetree with the Server
// actually running it. It plays the role the teacher's state.container
// plays for a sys container, minus everything container-specific.
type brokerMount struct {
	mountpoint string
	mapName    string
	options    string
	direct     bool
	ctime      time.Time

	tree   domain.NodeTreeIface
	server *Server
}

func (m *brokerMount) ID() string              { return m.mountpoint }
func (m *brokerMount) Mountpoint() string       { return m.mountpoint }
func (m *brokerMount) MapName() string          { return m.mapName }
func (m *brokerMount) Options() string          { return m.options }
func (m *brokerMount) Direct() bool             { return m.direct }
func (m *brokerMount) Ctime() time.Time         { return m.ctime }
func (m *brokerMount) Tree() domain.NodeTreeIface { return m.tree }

func (m *brokerMount) SetTree(t domain.NodeTreeIface) { m.tree = t }
