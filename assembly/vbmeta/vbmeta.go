// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package vbmeta implements spec.md §4.5.4 (the persistent, chained vbmeta
// image) and §4.5.5 (minimum-size enforcement for every other vbmeta file
// the pipeline produces or passes through).
package vbmeta

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/cuttlefish/assembly/avb"
	"github.com/google/cuttlefish/pathutil"
)

// PersistentConfig describes the two partitions the persistent vbmeta
// image chains to (spec.md §4.5.4).
type PersistentConfig struct {
	InstanceHomeDir string

	UbootEnvPublicKeyPath   string
	HasBootconfig           bool
	BootconfigPublicKeyPath string
}

// PersistentNode builds `<instance_home>/vbmeta.img`.
type PersistentNode struct {
	Cfg    PersistentConfig
	Signer avb.Signer
}

func (n *PersistentNode) Name() string        { return "persistent_vbmeta" }
func (n *PersistentNode) DependsOn() []string { return []string{"uboot_env"} }

func (n *PersistentNode) Generate() (string, bool, error) {
	final := filepath.Join(n.Cfg.InstanceHomeDir, "vbmeta.img")

	chains := []avb.ChainPartition{
		{Name: "uboot_env", RollbackIndex: 1, PublicKeyPath: n.Cfg.UbootEnvPublicKeyPath},
	}
	if n.Cfg.HasBootconfig {
		chains = append(chains, avb.ChainPartition{
			Name: "bootconfig", RollbackIndex: 2, PublicKeyPath: n.Cfg.BootconfigPublicKeyPath,
		})
	}

	// make_vbmeta_image always (re)writes its output, so it writes a scratch
	// file that replaces final only when the bytes differ; an invocation
	// whose inputs are unchanged reports no change.
	tmp := final + ".tmp"
	if err := n.Signer.MakeVbmetaImage(context.Background(), tmp, chains); err != nil {
		_ = os.Remove(tmp)
		return "", false, err
	}
	changed, err := pathutil.ReplaceIfChanged(tmp, final)
	if err != nil {
		return "", false, err
	}
	return final, changed, nil
}

// MinimumSizeNode re-enforces spec.md §4.5.5 on a vbmeta file the pipeline
// did not itself just produce (e.g. one copied out of a target-files zip),
// since the AVB reader reads the maximum size unconditionally.
type MinimumSizeNode struct {
	Path     string
	NodeName string
	Deps     []string
}

func (n *MinimumSizeNode) Name() string        { return n.NodeName }
func (n *MinimumSizeNode) DependsOn() []string { return n.Deps }

func (n *MinimumSizeNode) Generate() (string, bool, error) {
	if err := avb.EnforceMinimumSize(n.Path); err != nil {
		return "", false, err
	}
	return n.Path, false, nil
}
