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

// Package process resolves the caller-identity token the broker (§4.1
// "Helper selection", §5 "Reentrancy rule") uses to implement
// ignore_thread: it reads the kernel's notion of "session id" for a pid
// the same way the teacher's process package reads /proc/<pid>/status
// for namespace inodes, but scoped down to the one fact the broker core
// actually needs.
package process

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nestybox/mountbroker/domain"
)

type Service struct{}

func NewService() *Service {
	return &Service{}
}

// caller implements domain.CallerIface for a live process.
type caller struct {
	pid   uint32
	uid   uint32
	gid   uint32
	token domain.SessionToken
}

func (c *caller) Pid() uint32               { return c.pid }
func (c *caller) Uid() uint32               { return c.uid }
func (c *caller) Gid() uint32               { return c.gid }
func (c *caller) Token() domain.SessionToken { return c.token }

// NewCaller builds a CallerIface from the (pid, uid, gid) a FUSE request
// carries. Its token is the process's session id (/proc/<pid>/stat field
// 6), so that a helper's forked/exec'd descendants -- which inherit the
// session -- are recognised as ignore_thread without needing any
// explicit parent/child bookkeeping in the broker.
func (s *Service) NewCaller(pid, uid, gid uint32) domain.CallerIface {
	sid, err := sessionID(pid)
	if err != nil {
		// Best-effort: an unresolvable pid (already exited) is never the
		// helper, so treat it as its own unique, un-ignorable session.
		return &caller{pid: pid, uid: uid, gid: gid, token: domain.SessionToken(fmt.Sprintf("pid:%d", pid))}
	}
	return &caller{pid: pid, uid: uid, gid: gid, token: domain.SessionToken(fmt.Sprintf("sid:%d", sid))}
}

// sessionID parses field 6 (session id) of /proc/<pid>/stat. The
// executable-name field (field 2) is parenthesized and may itself
// contain spaces/parens, so we split on the closing paren rather than by
// naive whitespace splitting.
func sessionID(pid uint32) (int, error) {
	path := filepath.Join("/proc", strconv.FormatUint(uint64(pid), 10), "stat")

	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return 0, fmt.Errorf("%s: empty", path)
	}
	line := scanner.Text()

	close := strings.LastIndexByte(line, ')')
	if close < 0 || close+2 >= len(line) {
		return 0, fmt.Errorf("%s: malformed stat line", path)
	}

	fields := strings.Fields(line[close+2:])
	// fields[0] = state, [1] = ppid, [2] = pgrp, [3] = session
	const sessionFieldIdx = 3
	if len(fields) <= sessionFieldIdx {
		return 0, fmt.Errorf("%s: too few fields", path)
	}

	return strconv.Atoi(fields[sessionFieldIdx])
}
