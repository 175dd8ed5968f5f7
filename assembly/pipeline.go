// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package assembly implements spec.md §4.5: a dependency-ordered graph of
// image-producing nodes (boot repack, vbmeta signing, super-image
// composition, ESP construction, data partition shaping, composite-disk
// assembly) whose outputs feed the hypervisor, plus the disk-space guard
// that runs before any of them execute.
package assembly

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/google/cuttlefish/cvderrors"
)

var log = logrus.WithField("subsystem", "assembly")

// Node is one image-producing step in the pipeline (spec.md §3.4, §4.5).
// Generate is idempotent with respect to "configured-and-created": a node
// that decides its output is already up to date returns the existing path
// and changed=false rather than re-running its underlying tool.
type Node interface {
	// Name is the node's stable identifier: used for dependency edges,
	// logging, and (for most nodes) the output filename stem.
	Name() string
	// DependsOn lists the Name()s of nodes that must run first.
	DependsOn() []string
	// Generate produces (or confirms up to date) this node's output.
	Generate() (path string, changed bool, err error)
}

// Runner computes a topological order over a set of nodes and invokes
// Generate on each exactly once per pipeline run (spec.md §4.5 "A pipeline
// runner computes a topological order...").
type Runner struct {
	nodes map[string]Node
	order []string
}

// NewRunner builds a Runner from nodes, computing their topological order
// eagerly so a dependency cycle is reported before any node executes.
func NewRunner(nodes []Node) (*Runner, error) {
	byName := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		if _, dup := byName[n.Name()]; dup {
			return nil, cvderrors.Newf(cvderrors.KindInvariant, "duplicate pipeline node name %q", n.Name())
		}
		byName[n.Name()] = n
	}

	order, err := topoSort(byName)
	if err != nil {
		return nil, err
	}

	return &Runner{nodes: byName, order: order}, nil
}

// Results is keyed by node name.
type Results map[string]Result

// Result is one node's outcome.
type Result struct {
	Path    string
	Changed bool
}

// Run executes every node in dependency order, returning every node's
// result. It stops at the first node that fails, per spec.md §7's
// recovery rule that image-build failures leave existing outputs intact.
func (r *Runner) Run() (Results, error) {
	out := make(Results, len(r.order))
	for _, name := range r.order {
		n := r.nodes[name]
		for _, dep := range n.DependsOn() {
			if _, ok := out[dep]; !ok {
				return out, cvderrors.Newf(cvderrors.KindInvariant, "node %q ran before its dependency %q", name, dep)
			}
		}
		path, changed, err := n.Generate()
		if err != nil {
			return out, cvderrors.Wrapf(cvderrors.KindFilesystem, err, "pipeline node %q failed", name)
		}
		out[name] = Result{Path: path, Changed: changed}
		log.WithField("node", name).WithField("changed", changed).Debug("pipeline node complete")
	}
	return out, nil
}

func topoSort(nodes map[string]Node) ([]string, error) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(nodes))
	var order []string

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch color[name] {
		case black:
			return nil
		case gray:
			return cvderrors.Newf(cvderrors.KindInvariant, "dependency cycle detected: %v -> %s", path, name)
		}
		n, ok := nodes[name]
		if !ok {
			return cvderrors.Newf(cvderrors.KindInvariant, "unknown dependency %q", name)
		}
		color[name] = gray
		for _, dep := range n.DependsOn() {
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		color[name] = black
		order = append(order, name)
		return nil
	}

	names := make([]string, 0, len(nodes))
	for name := range nodes {
		names = append(names, name)
	}
	// topoSort's node visitation order (and therefore, given the same
	// input set, its output order) must not depend on Go map iteration
	// order (spec.md §8 invariant 6: "no dependence on filesystem
	// enumeration order" — the same determinism requirement extends to
	// this in-memory ordering).
	sort.Strings(names)

	for _, name := range names {
		if err := visit(name, nil); err != nil {
			return nil, err
		}
	}
	return order, nil
}
