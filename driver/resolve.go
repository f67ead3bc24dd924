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

package driver

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nestybox/mountbroker/domain"
)

// ActionCommands maps an HSM RequestType (everything but ReqMount, spec
// §6.5/§6.6) to the shell command line configured for it. %PATH%,
// %KEY%, %LOCATION%, %OPTIONS% are substituted with the request's
// fields before the line is handed to /bin/sh -c.
type ActionCommands map[domain.RequestType]string

// ShellExecutor is the default Executor (component C6's
// resolve_and_execute step): it turns a mount request into a mount(8)
// invocation and an HSM request into its configured action command,
// then runs it with /bin/sh -c exactly like the map model's executable
// maps are already run via sysio's RunExecutable.
type ShellExecutor struct {
	Actions ActionCommands
}

func NewShellExecutor(actions ActionCommands) *ShellExecutor {
	return &ShellExecutor{Actions: actions}
}

func (s *ShellExecutor) Execute(ctx context.Context, req domain.WireRequest) error {
	var cmd *exec.Cmd
	var err error

	switch req.Type {
	case domain.ReqMount:
		cmd, err = s.buildMountCommand(ctx, req)
	default:
		cmd, err = s.buildActionCommand(ctx, req)
	}
	if err != nil {
		return err
	}
	if cmd == nil {
		// A leafless node: nothing to run, the mountpoint directory
		// itself satisfies the lookup.
		return nil
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		logrus.Warnf("driver: %v: %s", err, strings.TrimSpace(stderr.String()))
		return domain.ErrWorkerFailed
	}
	return nil
}

// buildMountCommand constructs "mount -t <fstype> -o <options> <location>
// <mountpoint>" for a ReqMount request. req.Location is empty for a
// bare-directory leaf; that case needs no subprocess at all.
func (s *ShellExecutor) buildMountCommand(ctx context.Context, req domain.WireRequest) (*exec.Cmd, error) {
	if req.Location == "" {
		return nil, nil
	}

	fstype := fstypeOf(req.Location)
	options := injectMountOptions(req.Options, fstype)

	args := []string{"-t", fstype}
	if options != "" {
		args = append(args, "-o", options)
	}
	args = append(args, req.Location, req.Path)

	return exec.CommandContext(ctx, "mount", args...), nil
}

// injectMountOptions adds "automounted" (so tools like df can tell a
// mount was brought up on demand) and, for nfs mounts that didn't
// already set one, "retrycnt=1" -- the mount command itself should not
// retry, since the broker already owns retry/timeout policy for the
// triggering lookup (SUPPLEMENTED FEATURES #3).
func injectMountOptions(options, fstype string) string {
	opts := strings.Split(options, ",")
	n := opts[:0]
	for _, o := range opts {
		if o != "" {
			n = append(n, o)
		}
	}
	opts = n

	hasRetrycnt := false
	for _, o := range opts {
		if strings.HasPrefix(o, "retrycnt=") {
			hasRetrycnt = true
			break
		}
	}

	opts = append(opts, "automounted")
	if fstype == "nfs" && !hasRetrycnt {
		opts = append(opts, "retrycnt=1")
	}
	return strings.Join(opts, ",")
}

// buildActionCommand looks up the configured command line for req.Type
// and expands its placeholders. A request type with no configured
// command is a no-op success, matching a host that has simply chosen
// not to wire up that HSM action.
func (s *ShellExecutor) buildActionCommand(ctx context.Context, req domain.WireRequest) (*exec.Cmd, error) {
	tmpl, ok := s.Actions[req.Type]
	if !ok || tmpl == "" {
		return nil, nil
	}

	line := expandPlaceholders(tmpl, req)
	return exec.CommandContext(ctx, "/bin/sh", "-c", line), nil
}

func expandPlaceholders(tmpl string, req domain.WireRequest) string {
	r := strings.NewReplacer(
		"%PATH%", req.Path,
		"%KEY%", req.Key,
		"%LOCATION%", req.Location,
		"%OPTIONS%", req.Options,
	)
	return r.Replace(tmpl)
}

// fstypeOf guesses a mount(8) -t argument from a map location the way
// automount(8)'s "host:path" convention implies nfs; anything without a
// colon-delimited host component is treated as a local bind mount
// (spec §4.3 location grammar has no explicit fstype field, so this is
// the same inference automounters have always applied to "key
// location" map lines).
func fstypeOf(location string) string {
	if idx := strings.IndexByte(location, ':'); idx > 0 && !strings.ContainsRune(location[:idx], '/') {
		return "nfs"
	}
	return "none"
}
