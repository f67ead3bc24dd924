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

// OpenHelperSession registers the single permitted helper's identity
// (spec §4.1 "Helper selection"). Any attempt to open a session while
// one is active is refused, whatever its token -- there is exactly one
// helper driver per broker.
func (b *Broker) OpenHelperSession(token domain.SessionToken) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sessionOpen {
		return domain.ErrHelperBusy
	}

	b.sessionOpen = true
	b.helperToken = token
	return nil
}

// CloseHelperSession clears the registered session if token matches.
// Requests already posted are left exactly as they are (spec §4.1
// "Shutdown") -- a later OpenHelperSession (by a restarted helper) picks
// up where the table left off.
func (b *Broker) CloseHelperSession(token domain.SessionToken) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.sessionOpen || b.helperToken != token {
		return domain.ErrNodeNotFound
	}

	b.sessionOpen = false
	b.helperToken = domain.NoSession
	return nil
}

// HelperToken returns the currently registered helper session, if any --
// used by fuseserver to build the CallerIface it passes into Trigger.
func (b *Broker) HelperToken() (domain.SessionToken, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.helperToken, b.sessionOpen
}
