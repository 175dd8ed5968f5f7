// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package handlers implements one Handler (server.Handler) per verb listed
// in spec.md §4.2's routing table.
package handlers

import (
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/google/cuttlefish/cvderrors"
	"github.com/google/cuttlefish/instancedb"
	"github.com/google/cuttlefish/protocol"
	"github.com/google/cuttlefish/subprocess"
)

// procTracker remembers the subprocess.Handle backing an in-flight request
// so Interrupt can terminate it on client hang-up or server stop (spec.md
// §5 "Interrupt() is expected to terminate any in-flight subprocess").
type procTracker struct {
	mu    sync.Mutex
	procs map[string]*subprocess.Handle
}

func newProcTracker() *procTracker {
	return &procTracker{procs: make(map[string]*subprocess.Handle)}
}

func (t *procTracker) track(reqID string, h *subprocess.Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.procs[reqID] = h
}

func (t *procTracker) untrack(reqID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.procs, reqID)
}

// interruptAll signals every tracked subprocess; it does not wait for them
// to exit. Handle callers are already blocked in Wait and will observe the
// termination themselves.
func (t *procTracker) interruptAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, h := range t.procs {
		h.Interrupt()
	}
}

// parseFlags extracts simple "--key=value" arguments, ignoring bare flags
// and positional arguments (spec.md §4.2's verbs only ever use valued
// flags for selectors and instance parameters).
func parseFlags(args []string) map[string]string {
	out := make(map[string]string)
	for _, a := range args {
		if !strings.HasPrefix(a, "--") {
			continue
		}
		kv := a[2:]
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		out[kv[:eq]] = kv[eq+1:]
	}
	return out
}

// clientStdio turns the three ancillary descriptors a CommandRequest may
// carry into *os.File handles suitable for subprocess.Options, substituting
// /dev/null for any slot the client did not supply (spec.md §4.2 "Subprocess
// construction": a spawned tool never inherits the daemon's own stdio).
func clientStdio(req protocol.Request) (stdin, stdout, stderr *os.File, err error) {
	open := func(fd int, name string) (*os.File, error) {
		if fd < 0 {
			f, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
			if err != nil {
				return nil, cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to open /dev/null for %s", name)
			}
			return f, nil
		}
		return os.NewFile(uintptr(fd), name), nil
	}
	if stdin, err = open(req.Stdin, "stdin"); err != nil {
		return nil, nil, nil, err
	}
	if stdout, err = open(req.Stdout, "stdout"); err != nil {
		return nil, nil, nil, err
	}
	if stderr, err = open(req.Stderr, "stderr"); err != nil {
		return nil, nil, nil, err
	}
	return stdin, stdout, stderr, nil
}

var log = logrus.WithField("subsystem", "handlers")

// configEnvVarName is the environment variable every spawned child is
// given pointing at its group's config JSON (spec.md §4.2, §6).
const configEnvVarName = "CUTTLEFISH_CONFIG_FILE"

// cuttlefishInstanceEnvVar supplements selector flags when choosing a
// group (spec.md §4.2 "Group selection").
const cuttlefishInstanceEnvVar = "CUTTLEFISH_INSTANCE"

// buildSelectorQuery turns a request's selector flags and environment into
// an instancedb.Query (spec.md §4.2 "Group selection").
func buildSelectorQuery(opts protocol.SelectorOpts, env []string) instancedb.Query {
	q := instancedb.Query{
		Home:         opts.Home,
		GroupName:    opts.GroupName,
		InstanceName: opts.InstanceName,
	}
	if q.GroupName == "" {
		if inst := lookupEnv(env, cuttlefishInstanceEnvVar); inst != "" {
			q.InstanceName = inst
		}
	}
	return q
}

// selectGroup implements spec.md §4.2's "Group selection" algorithm.
func selectGroup(db *instancedb.DB, opts protocol.SelectorOpts, env []string, stdinIsTTY bool) (instancedb.Group, error) {
	q := buildSelectorQuery(opts, env)

	matches := db.FindGroups(q)
	switch len(matches) {
	case 0:
		if q == (instancedb.Query{}) {
			all := db.AllGroups()
			if len(all) == 1 {
				return all[0], nil
			}
		}
		return instancedb.Group{}, cvderrors.New(cvderrors.KindNotFound, "no instance group matches the given selector")
	case 1:
		return matches[0], nil
	default:
		if !stdinIsTTY {
			return instancedb.Group{}, cvderrors.New(cvderrors.KindAmbiguous, "selector matches more than one group and there is no terminal to disambiguate")
		}
		return matches[0], nil
	}
}

func lookupEnv(env []string, key string) string {
	prefix := key + "="
	for _, kv := range env {
		if len(kv) > len(prefix) && kv[:len(prefix)] == prefix {
			return kv[len(prefix):]
		}
	}
	return ""
}

// stdinIsTTY reports whether fd 0 is a terminal, used to decide whether
// ambiguous group selection can be disambiguated interactively.
func stdinIsTTY() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// configPath returns the per-group config file path (spec.md §6).
func configPath(g instancedb.Group) string {
	return g.HomeDir + "/cuttlefish_config.json"
}

// injectConfigEnv adds configEnvVarName to env if it is not already
// present (spec.md §4.2 "Subprocess construction").
func injectConfigEnv(env []string, g instancedb.Group) []string {
	if lookupEnv(env, configEnvVarName) != "" {
		return env
	}
	return append(append([]string{}, env...), configEnvVarName+"="+configPath(g))
}

// hostTool resolves a tool name to its path under a group's host-artifacts
// directory (spec.md §4.2's table of spawned host-side binaries).
func hostTool(g instancedb.Group, name string) string {
	return g.HostArtifactsDir + "/bin/" + name
}
