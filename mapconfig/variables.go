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

package mapconfig

import (
	"os"
	"runtime"

	"github.com/nestybox/mountbroker/domain"
)

// defaultVariables seeds the predefined variable table (spec §4.3.1 item
// 7) from the running host. OSNAME is runtime.GOOS. OSREL/OSVERS have
// no portable Go equivalent of uname(3); they are left blank unless
// SetVariable overrides them, same as the original falling back to empty
// strings when uname(2) is unavailable.
func defaultVariables() domain.VariableTable {
	vt := make(domain.VariableTable, len(domain.PredefinedVariableNames))
	vt["ARCH"] = runtime.GOARCH
	vt["CPU"] = runtime.GOARCH
	if host, err := os.Hostname(); err == nil {
		vt["HOST"] = host
	}
	vt["OSNAME"] = runtime.GOOS
	vt["OSREL"] = ""
	vt["OSVERS"] = ""
	return vt
}

// SetVariable overrides or adds a variable consulted by ExpandLocation.
func (s *Service) SetVariable(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars[name] = value
}
