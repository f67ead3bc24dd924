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

// broker-mount is a thin host-side admin tool (spec §6.7): -L lists the
// broker's live FUSE mounts straight out of the host mount table, -u
// force-unmounts one by mountpoint. Neither talks to a running
// broker-daemon; both read/drive the same /proc/self/mountinfo view
// package fuseserver exposes to the daemon itself.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli"

	"github.com/nestybox/mountbroker/fuseserver"
)

func main() {
	app := cli.NewApp()
	app.Name = "broker-mount"
	app.Usage = "list or force-unmount broker mount points"
	app.ArgsUsage = "[mountpoint]"

	app.Flags = []cli.Flag{
		cli.BoolFlag{Name: "L", Usage: "list live broker mounts"},
		cli.BoolFlag{Name: "u", Usage: "force-unmount the given mountpoint"},
	}

	app.Action = func(ctx *cli.Context) error {
		vfs := fuseserver.NewVfs()

		switch {
		case ctx.Bool("L"):
			mounts, err := vfs.VfsEnumerateMounts()
			if err != nil {
				return cli.NewExitError(err.Error(), 1)
			}
			for _, m := range mounts {
				if !strings.HasPrefix(m.FsType, "fuse") {
					continue
				}
				fmt.Printf("%s\t%s\t%s\n", m.Path, m.FsType, m.MountedFrom)
			}
			return nil

		case ctx.Bool("u"):
			mp := ctx.Args().First()
			if mp == "" {
				return cli.NewExitError("missing mountpoint argument", 1)
			}
			mounts, err := vfs.VfsEnumerateMounts()
			if err != nil {
				return cli.NewExitError(err.Error(), 1)
			}
			for _, m := range mounts {
				if m.Path == mp {
					if err := vfs.VfsUnmountByID(m.FsID, true); err != nil {
						return cli.NewExitError(err.Error(), 1)
					}
					return nil
				}
			}
			return cli.NewExitError(fmt.Sprintf("%s is not mounted", mp), 1)

		default:
			cli.ShowAppHelp(ctx)
			return nil
		}
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
