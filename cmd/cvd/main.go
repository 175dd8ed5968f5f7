// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// cvd is the thin client-side invocation parser (spec.md §4.2, §6): it
// normalizes the user's command line into a single verb request, sends it
// to the control-plane daemon over its UNIX-domain socket, and surfaces
// the daemon's response as this process's own stdout/stderr and exit
// code.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/google/cuttlefish/client"
	"github.com/google/cuttlefish/config"
	"github.com/google/cuttlefish/protocol"
)

var cvdLog = logrus.WithField("source", "cvd")

var globalFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "socket",
		Value: config.DefaultRuntimeConfig().SocketPath,
		Usage: "path to the control-plane daemon's listening socket",
	},
	cli.BoolFlag{
		Name:  "clean",
		Usage: "clear the server (stopping every tracked group) before running the verb",
	},
}

func main() {
	app := cli.NewApp()
	app.Name = "cvd"
	app.Usage = "Cuttlefish virtual device orchestrator client"
	app.Flags = globalFlags
	app.Action = run
	// Invocation parsing happens inside Action rather than via per-verb
	// cli.Commands: the set of verbs a running daemon accepts is owned by
	// its handler registry, not fixed at client build time.
	app.UseShortOptionHandling = true

	if err := app.Run(normalizeArgv(os.Args)); err != nil {
		cvdLog.Error(err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// normalizeArgv implements spec.md §4.2's "invocation parser strips a
// leading cvd (if argv[0] basenames to cvd)". The urfave/cli app itself
// already treats argv[0] as its own name, so this only needs to rewrite
// --help/-h/-help appearing as the first user-supplied argument into the
// `help` verb (spec.md §4.2), and `kill-server` into `shutdown`.
func normalizeArgv(argv []string) []string {
	if len(argv) < 2 {
		return argv
	}
	switch argv[1] {
	case "--help", "-h", "-help":
		out := append([]string{argv[0], "help"}, argv[2:]...)
		return out
	case "kill-server":
		out := append([]string{argv[0], "shutdown"}, argv[2:]...)
		return out
	}
	return argv
}

func run(c *cli.Context) error {
	args := c.Args()
	if !args.Present() {
		args = cli.Args{"help"}
	}

	conn, err := client.Dial(c.String("socket"))
	if err != nil {
		return err
	}
	defer conn.Close()

	if c.Bool("clean") {
		if err := sendClear(conn); err != nil {
			return err
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	req := protocol.NewCommandRequest(protocol.CommandRequest{
		Args:         []string(args),
		Env:          os.Environ(),
		WorkingDir:   cwd,
		WaitBehavior: protocol.WaitBehaviorWait,
	})

	resp, err := conn.Call(req)
	if err != nil {
		return err
	}
	return reportResponse(resp)
}

// sendClear issues a standalone `clear` verb ahead of the user's own
// request, implementing spec.md §6's "--clean clears the server before
// any verb".
func sendClear(conn *client.Conn) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	req := protocol.NewCommandRequest(protocol.CommandRequest{
		Args:         []string{"clear"},
		Env:          os.Environ(),
		WorkingDir:   cwd,
		WaitBehavior: protocol.WaitBehaviorWait,
	})
	resp, err := conn.Call(req)
	if err != nil {
		return err
	}
	return reportResponse(resp)
}

func reportResponse(resp protocol.Response) error {
	if resp.Status.Message != "" {
		fmt.Println(resp.Status.Message)
	}
	if resp.Status.Code != protocol.OK {
		return cli.NewExitError(resp.Status.Message, exitCodeFor(resp.Status.Code))
	}
	if resp.Command != nil && resp.Command.ExitCode != 0 {
		os.Exit(resp.Command.ExitCode)
	}
	return nil
}

func exitCodeFor(code protocol.Code) int {
	if code == protocol.OK {
		return 0
	}
	return 1
}
