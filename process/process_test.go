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

package process

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestybox/mountbroker/domain"
)

func TestNewCallerSelf(t *testing.T) {
	svc := NewService()

	c := svc.NewCaller(uint32(os.Getpid()), 0, 0)

	assert.Equal(t, uint32(os.Getpid()), c.Pid())
	assert.NotEqual(t, domain.NoSession, c.Token())
}

func TestIgnoreThreadMatchesSameSession(t *testing.T) {
	svc := NewService()

	helper := svc.NewCaller(uint32(os.Getpid()), 0, 0)
	other := svc.NewCaller(uint32(os.Getpid()), 1000, 1000)

	require.Equal(t, helper.Token(), other.Token())
	assert.True(t, domain.IgnoreThread(other, helper.Token()))
}

func TestIgnoreThreadFalseForNoSession(t *testing.T) {
	c := &testCaller{token: "sid:1"}
	assert.False(t, domain.IgnoreThread(c, domain.NoSession))
}

type testCaller struct {
	token domain.SessionToken
}

func (c *testCaller) Pid() uint32                { return 1 }
func (c *testCaller) Uid() uint32                { return 0 }
func (c *testCaller) Gid() uint32                { return 0 }
func (c *testCaller) Token() domain.SessionToken { return c.token }
