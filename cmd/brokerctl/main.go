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

// brokerctl is the HSM/admin counterpart of broker-daemon (spec §6.7):
// "hsm" and its per-verb aliases drive the persisted per-file state
// machine directly against the on-disk store and dispatch config,
// independent of any running broker-daemon; "hsmq" instead talks to a
// live daemon over its helper channel, and "reaper" rebuilds a mount
// table from the master file and the live host mount table.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/nestybox/mountbroker/broker"
	"github.com/nestybox/mountbroker/domain"
	"github.com/nestybox/mountbroker/fuseserver"
	"github.com/nestybox/mountbroker/helperchan"
	"github.com/nestybox/mountbroker/hsm"
	"github.com/nestybox/mountbroker/mapconfig"
	"github.com/nestybox/mountbroker/reaper"
	"github.com/nestybox/mountbroker/sysio"
)

var (
	configPath string
	storeDir   string
	helperSock string
	recursive  bool
)

func loadDispatcher() (*hsm.Dispatcher, *hsm.Store, error) {
	text, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", configPath, err)
	}
	cfg, err := hsm.ParseConfig(string(text))
	if err != nil {
		return nil, nil, fmt.Errorf("parsing %s: %w", configPath, err)
	}
	store, err := hsm.NewStore(storeDir)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store %s: %w", storeDir, err)
	}
	return hsm.NewDispatcher(store, cfg), store, nil
}

// expandFiles walks each argument's directory tree when recursive is
// set, otherwise returns the arguments unchanged.
func expandFiles(args []string) ([]string, error) {
	if !recursive {
		return args, nil
	}
	var out []string
	for _, a := range args {
		err := filepath.Walk(a, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !info.IsDir() {
				out = append(out, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// runVerb applies action to every file in args via the HSM dispatcher,
// logging one line per failure and returning a non-nil error if any
// file failed (spec §6.7: "Exit 0 on success, 1 on any per-argument
// error").
func runVerb(action domain.RequestType, args []string) error {
	files, err := expandFiles(args)
	if err != nil {
		return err
	}

	d, store, err := loadDispatcher()
	if err != nil {
		return err
	}
	defer store.Close()

	failed := 0
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", f, err)
			failed++
			continue
		}
		if err := d.Dispatch(context.Background(), abs, action); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", f, err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(files))
	}
	return nil
}

func printRecord(path string, rec domain.HsmRecord) {
	fmt.Printf("%s\t%s\tstaged=%s archived=%s released=%s\n",
		path, rec.State, rec.StagedTv.Format(time.RFC3339), rec.ArchivedTv.Format(time.RFC3339), rec.ReleasedTv.Format(time.RFC3339))
}

func runInfo(args []string) error {
	files, err := expandFiles(args)
	if err != nil {
		return err
	}
	_, store, err := loadDispatcher()
	if err != nil {
		return err
	}
	defer store.Close()

	failed := 0
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", f, err)
			failed++
			continue
		}
		rec, err := store.Get(abs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", f, err)
			failed++
			continue
		}
		printRecord(f, rec)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(files))
	}
	return nil
}

func newHsmCmd() *cobra.Command {
	var archive, inactive, list, release, stage, unmanage bool

	cmd := &cobra.Command{
		Use:   "hsm [flags] file...",
		Short: "drive or inspect the HSM per-file state machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case archive:
				return runVerb(domain.ReqArchive, args)
			case release:
				return runVerb(domain.ReqRelease, args)
			case stage:
				return runVerb(domain.ReqStage, args)
			case unmanage:
				return runVerb(domain.ReqUnmanage, args)
			case inactive, list:
				return runInfo(args)
			default:
				return cmd.Help()
			}
		},
	}

	cmd.Flags().BoolVarP(&archive, "archive", "A", false, "archive each file to its configured remotes")
	cmd.Flags().BoolVarP(&inactive, "inactive", "I", false, "report each file's current HSM state")
	cmd.Flags().BoolVarP(&list, "list", "L", false, "alias of --inactive for multiple files")
	cmd.Flags().BoolVarP(&release, "release", "R", false, "release (take offline) each file")
	cmd.Flags().BoolVarP(&stage, "stage", "S", false, "stage (bring online) each file")
	cmd.Flags().BoolVarP(&unmanage, "unmanage", "U", false, "drop HSM tracking for each file")
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "apply to every file under each directory argument")

	return cmd
}

func newVerbAliasCmd(use, short string, action domain.RequestType) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " file...",
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerb(action, args)
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "apply to every file under each directory argument")
	return cmd
}

func newHsmqCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hsmq",
		Short: "dump the broker's pending/in-progress request queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := grpc.Dial("unix://"+helperSock, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("dialing %s: %w", helperSock, err)
			}
			defer cc.Close()

			client := helperchan.NewClient(cc)
			cursor := uint32(0)
			for {
				resp, err := client.Peek(cursor)
				if err != nil {
					// An empty table surfaces as an error
					// (helperchan.Service.Peek's domain.ErrNodeNotFound);
					// that is this loop's normal termination.
					break
				}
				status := "pending"
				if resp.InProgress {
					status = "in-progress"
				}
				if resp.Done {
					status = "done"
				}
				fmt.Printf("%d\t%s\t%s\t%s\n", resp.ID, resp.Type, resp.Path, status)

				// NextCursor of 0 means the table has been fully walked
				// (broker.Peek's contract).
				if resp.NextCursor == 0 {
					break
				}
				cursor = resp.NextCursor
			}
			return nil
		},
	}
}

// newReaperCmd reconstructs the same mount table a running broker-daemon
// would hold (by re-reading masterPath and reconciling against the live
// host mount table) and runs a single reaping pass against it -- a
// cron-driven alternative to broker-daemon's own internal ticker (spec
// §6.7: "reaper [-t expire] [-r retry]").
func newReaperCmd() *cobra.Command {
	var expire time.Duration
	var master string

	cmd := &cobra.Command{
		Use:   "reaper master-file",
		Short: "force a one-shot idle-mount sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			if master == "" && len(args) > 0 {
				master = args[0]
			}
			if master == "" {
				return fmt.Errorf("missing master-file argument")
			}

			ioSvc := sysio.NewIOService(domain.IOOsFileService)
			mapSvc := mapconfig.NewService(ioSvc, nil, nil)
			brokerSvc := broker.New(nil)
			vfs := fuseserver.NewVfs()
			fss := fuseserver.NewService(30*time.Second, 2, 2*time.Second)
			fss.Setup(vfs, ioSvc, mapSvc, brokerSvc)

			entries, err := mapSvc.ParseMaster(master)
			if err != nil {
				return err
			}
			if err := mapSvc.Reconcile(entries, fss); err != nil {
				return err
			}

			reaper.New(fss, reaper.Config{Idle: expire, Interval: time.Hour}).Sweep()
			return nil
		},
	}

	cmd.Flags().DurationVarP(&expire, "expire", "t", 10*time.Minute, "idle window before a mount is eligible for reaping")
	cmd.Flags().StringVar(&master, "master", "", "master map file (defaults to the first positional argument)")
	return cmd
}

func main() {
	root := &cobra.Command{
		Use:   "brokerctl",
		Short: "HSM and broker-daemon administration",
	}

	root.PersistentFlags().StringVar(&configPath, "config", "/etc/hsm.conf", "HSM dispatch configuration file")
	root.PersistentFlags().StringVar(&storeDir, "store-dir", "/var/lib/hsm", "HSM per-file state store directory")
	root.PersistentFlags().StringVar(&helperSock, "helper-socket", "/run/mountbroker/helper.sock", "broker-daemon helper channel socket")

	root.AddCommand(newHsmCmd())
	root.AddCommand(newHsmqCmd())
	root.AddCommand(newReaperCmd())
	root.AddCommand(newVerbAliasCmd("hsmarchive", "archive each file", domain.ReqArchive))
	root.AddCommand(newVerbAliasCmd("hsmstage", "stage each file", domain.ReqStage))
	root.AddCommand(newVerbAliasCmd("hsmrelease", "release each file", domain.ReqRelease))
	root.AddCommand(newVerbAliasCmd("hsmrecycle", "recycle each file", domain.ReqRecycle))
	root.AddCommand(newVerbAliasCmd("hsmunmanage", "drop HSM tracking for each file", domain.ReqUnmanage))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
