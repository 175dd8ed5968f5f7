// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// cvd_server is the control-plane daemon's composition root: it wires the
// instance database, the lock registry, every command handler, and the
// disk assembly pipeline together, then hands them to server.New/Serve
// (spec.md §4.1, §4.2).
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/google/cuttlefish/assembly"
	"github.com/google/cuttlefish/config"
	"github.com/google/cuttlefish/instancedb"
	"github.com/google/cuttlefish/instancelock"
	"github.com/google/cuttlefish/server"
	"github.com/google/cuttlefish/server/handlers"
)

var log = logrus.WithField("subsystem", "cvd_server")

func main() {
	app := cli.NewApp()
	app.Name = "cvd_server"
	app.Usage = "Cuttlefish control-plane daemon"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "socket",
			Value: config.DefaultRuntimeConfig().SocketPath,
			Usage: "path to bind (or, on self-replacement, adopt) the listening socket",
		},
		cli.IntFlag{
			Name:  "INTERNAL_server_fd",
			Usage: "exec-handoff: inherited listening socket fd (spec.md §6)",
		},
		cli.IntFlag{
			Name:  "INTERNAL_carryover_client_fd",
			Usage: "exec-handoff: inherited carry-over client fd (spec.md §6)",
		},
		cli.IntFlag{
			Name:  "INTERNAL_memory_carryover_fd",
			Usage: "exec-handoff: inherited serialized-database memfd (spec.md §6)",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Error("fatal")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	rc := config.DefaultRuntimeConfig()
	if sock := c.String("socket"); sock != "" {
		rc.SocketPath = sock
	}

	db := instancedb.New()
	locks := handlers.NewLockRegistry()

	watcher, err := instancelock.NewWatcher()
	if err != nil {
		return err
	}
	go watcher.Run()

	start := handlers.NewStartHandler(db, locks, pipelineFor(rc))
	stop := handlers.NewStopHandler(db)
	status := handlers.NewStatusHandler(db)
	fleet := &handlers.FleetHandler{DB: db}
	clear := &handlers.ClearHandler{DB: db, Locks: locks}
	fetch := handlers.NewFetchHandler()
	bugreport := handlers.NewGroupToolHandler(db, []string{"host_bugreport", "cvd_host_bugreport"}, "cvd_host_bugreport",
		"Collect a host bugreport", "host_bugreport: spawn the selected group's bugreport collector")
	display := handlers.NewGroupToolHandler(db, []string{"display"}, "cvd_internal_display",
		"Control virtual displays", "display: spawn the selected group's display-control tool")
	env := handlers.NewGroupToolHandler(db, []string{"env"}, "cvd_internal_env",
		"Print the group's environment", "env: spawn the selected group's environment-reporting tool")
	mkdir := handlers.NewSystemToolHandler([]string{"mkdir"}, "mkdir",
		"Create a directory", "mkdir: pass arguments through to the system mkdir")
	ln := handlers.NewSystemToolHandler([]string{"ln"}, "ln",
		"Create a link", "ln: pass arguments through to the system ln")
	version := &handlers.VersionHandler{}

	var srv *server.Server

	shutdown := &handlers.ShutdownHandler{
		DB:    db,
		Clear: clear,
		StopServer: func() {
			if srv != nil {
				srv.Stop()
			}
		},
	}
	restart := &handlers.RestartServerHandler{
		Restart: func(newBinary string, carryoverClientFD int) error {
			return srv.Restart(newBinary, carryoverClientFD)
		},
	}

	all := []server.Handler{start, stop, status, fleet, clear, shutdown, restart, fetch, bugreport, display, env, mkdir, ln, version}

	help := &handlers.HelpHandler{}
	for _, h := range all {
		help.All = append(help.All, h)
	}
	all = append(all, help)

	srv, err = server.New(server.Config{
		SocketPath: rc.SocketPath,
		Handlers:   all,
		DB:         db,
	})
	if err != nil {
		return err
	}

	log.WithField("socket", rc.SocketPath).Info("cvd_server listening")
	return srv.Serve()
}

// pipelineFor returns the handlers.Pipeline the start verb runs after
// inserting a new group: the real disk assembly pipeline, scoped to the
// group's home directory and a private scratch subdirectory beneath it,
// guarded by the disk-space check spec.md §4.6 requires run before any
// node mutates anything.
func pipelineFor(rc config.RuntimeConfig) handlers.Pipeline {
	return func(g instancedb.Group) error {
		if err := assembly.CheckDiskSpace(assembly.DataImagePaths{
			Primary: filepath.Join(g.HomeDir, "userdata.img"),
			New:     filepath.Join(g.HomeDir, "userdata.img.new"),
		}); err != nil {
			return err
		}

		scratch := filepath.Join(g.HomeDir, ".cuttlefish_assembly")
		runner, err := assembly.BuildGroupPipeline(assembly.GroupPipelineConfig{
			InstanceHomeDir: g.HomeDir,
			ScratchDir:      scratch,
			ProductOutDir:   g.ProductOutDir,
		})
		if err != nil {
			return err
		}
		_, err = runner.Run()
		return err
	}
}
