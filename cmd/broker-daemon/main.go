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

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	systemd "github.com/coreos/go-systemd/v22/daemon"
	"github.com/google/uuid"
	"github.com/pkg/profile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"google.golang.org/grpc"

	"github.com/nestybox/mountbroker/broker"
	"github.com/nestybox/mountbroker/domain"
	"github.com/nestybox/mountbroker/driver"
	"github.com/nestybox/mountbroker/fuseserver"
	"github.com/nestybox/mountbroker/helperchan"
	"github.com/nestybox/mountbroker/mapconfig"
	"github.com/nestybox/mountbroker/reaper"
	"github.com/nestybox/mountbroker/sysio"
)

const (
	runDir  string = "/run/mountbroker"
	pidFile string = runDir + "/broker-daemon.pid"
	usage   string = `broker-daemon master-file

broker-daemon is an on-demand mount broker: it watches a master map
file, materialises one FUSE lookup-triggered tree per entry, and mounts
each leaf the first time something resolves it.
`
)

var (
	version  string
	commitId string
	builtAt  string
	builtBy  string
)

func setupRunDir() error {
	if err := os.MkdirAll(runDir, 0700); err != nil {
		return fmt.Errorf("failed to create %s: %s", runDir, err)
	}
	return nil
}

func runProfiler(ctx *cli.Context) (interface{ Stop() }, error) {
	var prof interface{ Stop() }

	cpuProfOn := ctx.Bool("cpu-profiling")
	memProfOn := ctx.Bool("memory-profiling")

	if cpuProfOn && memProfOn {
		return nil, fmt.Errorf("unsupported parameter combination: cpu and memory profiling")
	}
	if !(cpuProfOn || memProfOn) {
		return nil, nil
	}

	if cpuProfOn {
		prof = profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook)
	}
	if memProfOn {
		prof = profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.NoShutdownHook)
	}
	return prof, nil
}

func exitHandler(signalChan chan os.Signal, cancel context.CancelFunc, srv *grpc.Server, fss *fuseserver.Service, profile interface{ Stop() }) {
	printStack := false

	s := <-signalChan
	logrus.Warnf("broker-daemon caught signal: %s", s)
	logrus.Info("Stopping (gracefully) ...")
	systemd.SdNotify(false, systemd.SdNotifyStopping)

	switch s {
	case syscall.SIGABRT, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGSEGV:
		printStack = true
	}
	if printStack {
		stacktrace := make([]byte, 32768)
		length := runtime.Stack(stacktrace, true)
		logrus.Warnf("\n\n%s\n", string(stacktrace[:length]))
	}

	cancel()

	if srv != nil {
		srv.GracefulStop()
	}
	for _, mp := range fss.All() {
		if err := fss.Destroy(mp.Mountpoint()); err != nil {
			logrus.Warnf("failed to destroy mount %s: %v", mp.Mountpoint(), err)
		}
	}

	if profile != nil {
		profile.Stop()
	}

	time.Sleep(2 * time.Second)

	if err := destroyPidFile(pidFile); err != nil {
		logrus.Warnf("failed to destroy broker-daemon pid file: %v", err)
	}

	logrus.Info("Exiting ...")
	os.Exit(0)
}

func parseVariableFlags(defs []string) map[string]string {
	out := make(map[string]string, len(defs))
	for _, d := range defs {
		name, value, ok := strings.Cut(d, "=")
		if !ok {
			continue
		}
		out[name] = value
	}
	return out
}

func main() {
	app := cli.NewApp()
	app.Name = "broker-daemon"
	app.Usage = usage
	app.Version = version

	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "d",
			Usage: "debug logging",
		},
		cli.BoolFlag{
			Name:  "v",
			Usage: "verbose (info-level) logging",
		},
		cli.StringSliceFlag{
			Name:  "D",
			Usage: "define a map variable as name=value (repeatable)",
		},
		cli.IntFlag{
			Name:  "m",
			Value: 0,
			Usage: "maxproc: bound concurrent helper requests (0 = unbounded)",
		},
		cli.StringFlag{
			Name:  "o",
			Usage: "default mount options applied to every master entry",
		},
		cli.DurationFlag{
			Name:  "reconcile-interval",
			Value: 30 * time.Second,
			Usage: "how often the master file is re-read and reconciled",
		},
		cli.DurationFlag{
			Name:  "reaper-interval",
			Value: time.Minute,
			Usage: "how often idle mounts are swept",
		},
		cli.DurationFlag{
			Name:  "reaper-idle",
			Value: 10 * time.Minute,
			Usage: "how long a mount may sit unused before the reaper unmounts it",
		},
		cli.DurationFlag{
			Name:  "trigger-timeout",
			Value: 30 * time.Second,
			Usage: "how long a kernel lookup waits for its mount to complete",
		},
		cli.IntFlag{
			Name:  "retry-attempts",
			Value: 2,
			Usage: "how many times a failed (non-interrupted) trigger is retried before it is surfaced to the kernel",
		},
		cli.DurationFlag{
			Name:  "retry-delay",
			Value: 2 * time.Second,
			Usage: "delay between retry attempts",
		},
		cli.StringFlag{
			Name:  "helper-socket",
			Value: runDir + "/helper.sock",
			Usage: "unix socket the privileged helper channel listens on",
		},
		cli.BoolFlag{
			Name:  "native",
			Usage: "run the helper driver in-process via mount(2) instead of shelling out to mount(8)",
		},
		cli.StringFlag{
			Name:  "metrics-addr",
			Usage: "address to serve Prometheus metrics on (empty disables it)",
		},
		cli.StringFlag{
			Name:  "log",
			Usage: "log file path or empty string for stderr output",
		},
		cli.StringFlag{
			Name:  "log-format",
			Value: "text",
			Usage: "log format; must be json or text",
		},
		cli.BoolFlag{
			Name:   "cpu-profiling",
			Usage:  "enable cpu-profiling data collection",
			Hidden: true,
		},
		cli.BoolFlag{
			Name:   "memory-profiling",
			Usage:  "enable memory-profiling data collection",
			Hidden: true,
		},
	}

	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Printf("broker-daemon\n\tversion: \t%s\n\tcommit: \t%s\n\tbuilt at: \t%s\n\tbuilt by: \t%s\n",
			c.App.Version, commitId, builtAt, builtBy)
	}

	app.Before = func(ctx *cli.Context) error {
		if path := ctx.GlobalString("log"); path != "" {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC, 0666)
			if err != nil {
				logrus.Fatalf("error opening log file %v: %v. Exiting ...", path, err)
				return err
			}
			logrus.SetOutput(f)
			log.SetOutput(f)
		} else {
			logrus.SetOutput(os.Stderr)
			log.SetOutput(os.Stderr)
		}

		if ctx.GlobalString("log-format") == "json" {
			logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05"})
		} else {
			logrus.SetFormatter(&logrus.TextFormatter{TimestampFormat: "2006-01-02 15:04:05", FullTimestamp: true})
		}

		switch {
		case ctx.GlobalBool("d"):
			flag.Set("fuse.debug", "true")
			logrus.SetLevel(logrus.DebugLevel)
		case ctx.GlobalBool("v"):
			logrus.SetLevel(logrus.InfoLevel)
		default:
			logrus.SetLevel(logrus.WarnLevel)
		}

		return nil
	}

	app.Action = func(ctx *cli.Context) error {
		masterPath := ctx.Args().First()
		if masterPath == "" {
			return fmt.Errorf("missing required master-file argument")
		}

		instanceID := uuid.NewString()
		logrus.Infof("Initiating broker-daemon (instance %s) ...", instanceID)

		if err := setupRunDir(); err != nil {
			return err
		}
		if err := checkPidFile(pidFile); err != nil {
			return err
		}

		reg := prometheus.NewRegistry()

		ioSvc := sysio.NewIOService(domain.IOOsFileService)
		mapSvc := mapconfig.NewService(ioSvc, nil, nil)
		for name, value := range parseVariableFlags(ctx.GlobalStringSlice("D")) {
			mapSvc.SetVariable(name, value)
		}

		brokerSvc := broker.New(reg)
		vfs := fuseserver.NewVfs()
		fss := fuseserver.NewService(ctx.GlobalDuration("trigger-timeout"), ctx.GlobalInt("retry-attempts"), ctx.GlobalDuration("retry-delay"))
		fss.Setup(vfs, ioSvc, mapSvc, brokerSvc)

		actions := driver.ActionCommands{}
		var executor driver.Executor
		if ctx.GlobalBool("native") {
			executor = driver.NewNativeExecutor(vfs, actions)
		} else {
			executor = driver.NewShellExecutor(actions)
		}

		channelSvc := helperchan.NewService(brokerSvc)
		drv := driver.New(channelSvc, executor, driver.Config{MaxProc: ctx.GlobalInt("m")})

		rpr := reaper.New(fss, reaper.Config{
			Idle:     ctx.GlobalDuration("reaper-idle"),
			Interval: ctx.GlobalDuration("reaper-interval"),
		})

		runCtx, cancel := context.WithCancel(context.Background())

		grpcSrv, err := startHelperChannel(channelSvc, ctx.GlobalString("helper-socket"))
		if err != nil {
			return fmt.Errorf("failed to start helper channel: %w", err)
		}

		if addr := ctx.GlobalString("metrics-addr"); addr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			go func() {
				if err := http.ListenAndServe(addr, mux); err != nil {
					logrus.Warnf("metrics server stopped: %v", err)
				}
			}()
		}

		go drv.Run(runCtx)
		go rpr.Run(runCtx)
		go reconcileLoop(runCtx, masterPath, ctx.GlobalString("o"), mapSvc, fss, ctx.GlobalDuration("reconcile-interval"))

		profileHandle, err := runProfiler(ctx)
		if err != nil {
			logrus.Fatal(err)
		}

		exitChan := make(chan os.Signal, 1)
		signal.Notify(exitChan, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGSEGV, syscall.SIGQUIT)
		go exitHandler(exitChan, cancel, grpcSrv, fss, profileHandle)

		systemd.SdNotify(false, systemd.SdNotifyReady)

		if err := createPidFile(pidFile); err != nil {
			return fmt.Errorf("failed to create broker-daemon.pid file: %s", err)
		}

		logrus.Info("Ready ...")
		<-runCtx.Done()

		if err := destroyPidFile(pidFile); err != nil {
			logrus.Warnf("failed to destroy broker-daemon pid file: %v", err)
		}
		logrus.Info("Done.")
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

// startHelperChannel exposes channelSvc over a grpc unix socket so a
// helper process that isn't the in-process driver (started with
// -native or the default shell executor running in the same binary)
// can still attach as an alternate privileged worker (spec §6.2,
// component C5).
func startHelperChannel(channelSvc *helperchan.Service, sockPath string) (*grpc.Server, error) {
	_ = os.Remove(sockPath)
	lis, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, err
	}

	srv := grpc.NewServer()
	helperchan.RegisterHelperChannelServer(srv, channelSvc)
	go func() {
		if err := srv.Serve(lis); err != nil {
			logrus.Warnf("helper channel stopped: %v", err)
		}
	}()
	return srv, nil
}

// reconcileLoop re-reads masterPath every interval and drives fss to
// match it (spec §4.3.3), the top-level loop an automount daemon runs
// instead of a one-shot fuseServerService.Setup.
func reconcileLoop(ctx context.Context, masterPath, defaultOptions string, mapSvc *mapconfig.Service, fss *fuseserver.Service, interval time.Duration) {
	sweep := func() {
		entries, err := mapSvc.ParseMaster(masterPath)
		if err != nil {
			logrus.Warnf("reconcile: failed to parse %s: %v", masterPath, err)
			return
		}
		if defaultOptions != "" {
			for i := range entries {
				if entries[i].Options == "" {
					entries[i].Options = defaultOptions
				} else {
					entries[i].Options = entries[i].Options + "," + defaultOptions
				}
			}
		}
		if err := mapSvc.Reconcile(entries, fss); err != nil {
			logrus.Warnf("reconcile: %v", err)
		}
	}

	sweep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
