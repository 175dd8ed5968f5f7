// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package composite

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/cuttlefish/cvderrors"
	"github.com/google/cuttlefish/pathutil"
	"github.com/google/cuttlefish/subprocess"
)

// Hypervisor selects overlay construction behavior (spec.md §4.5.9).
type Hypervisor int

const (
	HypervisorQEMU Hypervisor = iota
	HypervisorCrosvm
	HypervisorGem5
)

// Config describes one composite disk's build inputs.
type Config struct {
	Partitions []Partition

	OutPath      string
	ConfigSerial []byte // the serialized config this disk was built from

	ReadOnly         bool
	ResumeIfPossible bool
	OverlayPath      string
	BuildOverlay     bool // for non-QEMU hypervisors, caller's explicit flag
	Hypervisor       Hypervisor
}

// Node builds one composite disk (the boot disk, persistent disk, or AP
// disk, depending on which Partitions list the caller supplies).
type Node struct {
	NodeName string
	Deps     []string
	Cfg      Config
}

func (n *Node) Name() string        { return n.NodeName }
func (n *Node) DependsOn() []string { return n.Deps }

func (n *Node) Generate() (string, bool, error) {
	ctx := context.Background()

	upToDate, err := n.isUpToDate()
	if err != nil {
		return "", false, err
	}
	if upToDate {
		return n.Cfg.OutPath, false, nil
	}

	if err := buildCompositeDisk(ctx, n.Cfg); err != nil {
		return "", false, err
	}

	if n.wantsOverlay() {
		if err := buildOverlay(ctx, n.Cfg.OutPath, n.Cfg.OverlayPath); err != nil {
			return "", false, err
		}
	}

	return n.Cfg.OutPath, true, nil
}

// isUpToDate implements spec.md §4.5.9's "Build decision: skip if the
// serialized config file has not changed and the composite is newer than
// every referenced component."
func (n *Node) isUpToDate() (bool, error) {
	configStamp := filepath.Join(filepath.Dir(n.Cfg.OutPath), ".composite_config.json")
	prev, err := readIfExists(configStamp)
	if err != nil {
		return false, err
	}
	if prev == nil || !jsonEqual(prev, n.Cfg.ConfigSerial) {
		return false, nil
	}

	var componentPaths []string
	for _, p := range n.Cfg.Partitions {
		if p.Path != "" {
			componentPaths = append(componentPaths, p.Path)
		}
	}
	return pathutil.MTimeNotOlderThan(n.Cfg.OutPath, componentPaths)
}

func jsonEqual(a, b []byte) bool {
	var av, bv interface{}
	if json.Unmarshal(a, &av) != nil || json.Unmarshal(b, &bv) != nil {
		return string(a) == string(b)
	}
	aCanon, _ := json.Marshal(av)
	bCanon, _ := json.Marshal(bv)
	return string(aCanon) == string(bCanon)
}

// wantsOverlay implements spec.md §4.5.9's overlay rule: QEMU always
// builds a copy-on-write overlay over the composite; other hypervisors
// build one only when the caller's explicit flag requests it.
func (n *Node) wantsOverlay() bool {
	if n.Cfg.OverlayPath == "" {
		return false
	}
	if n.Cfg.Hypervisor == HypervisorQEMU {
		return true
	}
	return n.Cfg.BuildOverlay
}

func buildCompositeDisk(ctx context.Context, cfg Config) error {
	argv := []string{"mk_combined_img", "-o", cfg.OutPath}
	for _, p := range cfg.Partitions {
		if p.Path == "" {
			continue
		}
		argv = append(argv, "--partition", p.Label+":"+p.Path)
	}
	exit, err := subprocess.Run(ctx, argv, nil, "", nil)
	if err != nil {
		return err
	}
	if !exit.OK() {
		return cvderrors.Newf(cvderrors.KindSubprocess, "mk_combined_img: %s", exit.String())
	}

	stamp := filepath.Join(filepath.Dir(cfg.OutPath), ".composite_config.json")
	if err := os.WriteFile(stamp, cfg.ConfigSerial, pathutil.FileMode); err != nil {
		return cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to write %q", stamp)
	}
	return nil
}

func buildOverlay(ctx context.Context, base, overlayPath string) error {
	exit, err := subprocess.Run(ctx, []string{
		"qemu-img", "create", "-f", "qcow2", "-b", base, "-F", "raw", overlayPath,
	}, nil, "", nil)
	if err != nil {
		return err
	}
	if !exit.OK() {
		return cvderrors.Newf(cvderrors.KindSubprocess, "qemu-img: %s", exit.String())
	}
	return nil
}

func readIfExists(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to read %q", path)
	}
	return data, nil
}
