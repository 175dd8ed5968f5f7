// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package config implements spec.md §9's "parse once into an immutable
// config struct" design note: the process-wide daemon configuration parsed
// from CLI flags at startup, and the per-group cuttlefish_config.json
// structure handlers read and write under each group's home directory
// (spec.md §6 "On-disk layout per group").
package config

import (
	"encoding/json"
	"os"

	"code.cloudfoundry.org/bytefmt"

	"github.com/google/cuttlefish/cvderrors"
)

// RuntimeConfig is the daemon's immutable, process-wide configuration,
// parsed once at startup (spec.md §9 "Global flags (FLAGS_*) ... parse
// once into an immutable config struct; thread it through constructors").
type RuntimeConfig struct {
	SocketPath    string
	RuntimeDir    string
	DefaultFormat string
	MaxLockScan   int
}

// DefaultRuntimeConfig returns the configuration a daemon starts with
// absent any overriding flags.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		SocketPath:    "/run/cuttlefish/cvd_server.sock",
		RuntimeDir:    "/run/cuttlefish",
		DefaultFormat: "ext4",
		MaxLockScan:   64,
	}
}

// ParseSize parses a human-readable size like "512M" or "2G" into bytes,
// the form every disk-image size flag accepts (spec.md §4.5.7's
// configured sizes).
func ParseSize(s string) (uint64, error) {
	n, err := bytefmt.ToBytes(s)
	if err != nil {
		return 0, cvderrors.Wrapf(cvderrors.KindInvariant, err, "invalid size %q", s)
	}
	return n, nil
}

// GroupConfig is the authoritative per-group runtime configuration written
// to <home>/cuttlefish_config.json (spec.md §6) and read back by every
// subprocess the daemon spawns on that group's behalf via the injected
// config-path environment variable.
type GroupConfig struct {
	GroupName        string `json:"group_name"`
	HomeDir          string `json:"home_dir"`
	HostArtifactsDir string `json:"host_artifacts_dir"`
	ProductOutDir    string `json:"product_out_dir"`

	InstanceIDs []int  `json:"instance_ids"`
	Flow        string `json:"boot_flow"`
	Hypervisor  string `json:"hypervisor"`

	BootconfigSupported bool   `json:"bootconfig_supported"`
	DataImageSizeBytes  uint64 `json:"data_image_size_bytes"`
}

// Write serializes c to path, replacing any existing file.
func (c GroupConfig) Write(path string) error {
	body, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return cvderrors.Wrap(cvderrors.KindInvariant, err, "failed to marshal group config")
	}
	if err := os.WriteFile(path, body, 0640); err != nil {
		return cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to write %q", path)
	}
	return nil
}

// Load reads and parses the group config at path.
func Load(path string) (GroupConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return GroupConfig{}, cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to read %q", path)
	}
	var c GroupConfig
	if err := json.Unmarshal(data, &c); err != nil {
		return GroupConfig{}, cvderrors.Wrapf(cvderrors.KindInvariant, err, "failed to parse %q", path)
	}
	return c, nil
}
