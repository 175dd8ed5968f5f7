// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package superimage

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/cuttlefish/assembly/avb"
	"github.com/google/cuttlefish/cvderrors"
	"github.com/google/cuttlefish/pathutil"
	"github.com/google/cuttlefish/subprocess"
)

// vendorPartitionImages are extracted from the default target-files
// archive (spec.md §4.5.6: "vendor-partition images from default,
// everything else from system").
var vendorPartitionImages = []string{
	"IMAGES/vendor.img",
	"IMAGES/vendor_dlkm.img",
	"IMAGES/odm.img",
	"IMAGES/odm_dlkm.img",
}

// Config describes the two target-files archives this node combines.
type Config struct {
	DefaultTargetFilesZip string
	SystemTargetFilesZip  string
	ScratchDir            string
	InstanceHomeDir       string
}

// Node builds `<instance_home>/super.img`.
type Node struct {
	Cfg    Config
	Signer avb.Signer
}

func (n *Node) Name() string        { return "super_image" }
func (n *Node) DependsOn() []string { return nil }

func (n *Node) Generate() (string, bool, error) {
	ctx := context.Background()
	final := filepath.Join(n.Cfg.InstanceHomeDir, "super.img")

	buildTree := filepath.Join(n.Cfg.ScratchDir, "super_build_tree")
	if err := pathutil.EnsureDir(buildTree); err != nil {
		return "", false, err
	}

	vendorImages, err := pathutil.ExtractZipEntries(n.Cfg.DefaultTargetFilesZip, vendorPartitionImages, buildTree)
	if err != nil {
		return "", false, err
	}

	systemEntries, err := zipEntries(n.Cfg.SystemTargetFilesZip)
	if err != nil {
		return "", false, err
	}
	var everythingElse []string
	for _, e := range systemEntries {
		if !strings.HasPrefix(e, "IMAGES/") || contains(vendorPartitionImages, e) {
			continue
		}
		everythingElse = append(everythingElse, e)
	}
	systemImages, err := pathutil.ExtractZipEntries(n.Cfg.SystemTargetFilesZip, everythingElse, buildTree)
	if err != nil {
		return "", false, err
	}

	vendorMiscRaw, err := extractText(n.Cfg.DefaultTargetFilesZip, "META/misc_info.txt", buildTree)
	if err != nil {
		return "", false, err
	}
	systemMiscRaw, err := extractText(n.Cfg.SystemTargetFilesZip, "META/misc_info.txt", buildTree)
	if err != nil {
		return "", false, err
	}
	vendorMisc, err := ParseMiscInfo(vendorMiscRaw)
	if err != nil {
		return "", false, err
	}
	systemMisc, err := ParseMiscInfo(systemMiscRaw)
	if err != nil {
		return "", false, err
	}
	mergedMisc := renumberCollisions(MergeMiscInfo(vendorMisc, systemMisc))

	vendorDPRaw, err := extractText(n.Cfg.DefaultTargetFilesZip, "META/dynamic_partitions_info.txt", buildTree)
	if err != nil {
		return "", false, err
	}
	systemDPRaw, err := extractText(n.Cfg.SystemTargetFilesZip, "META/dynamic_partitions_info.txt", buildTree)
	if err != nil {
		return "", false, err
	}
	vendorDPProps, err := ParseMiscInfo(vendorDPRaw)
	if err != nil {
		return "", false, err
	}
	systemDPProps, err := ParseMiscInfo(systemDPRaw)
	if err != nil {
		return "", false, err
	}
	extracted := extractedImageNames(vendorImages, systemImages)
	mergedDP := MergeDynamicPartitionsInfo(
		DynamicPartitionsInfo{Props: vendorDPProps},
		DynamicPartitionsInfo{Props: systemDPProps},
		extracted,
	)

	miscPath := filepath.Join(buildTree, "META", "misc_info.txt")
	if err := writeUnder(buildTree, "META/misc_info.txt", WriteMiscInfo(mergedMisc)); err != nil {
		return "", false, err
	}
	if err := writeUnder(buildTree, "META/dynamic_partitions_info.txt", WriteMiscInfo(mergedDP.Props)); err != nil {
		return "", false, err
	}

	tmp := final + ".tmp"
	if err := buildSuperImage(ctx, miscPath, buildTree, tmp); err != nil {
		return "", false, err
	}

	vbmetaPath := filepath.Join(n.Cfg.InstanceHomeDir, "vbmeta_system.img")
	if err := n.Signer.MakeVbmetaImage(ctx, vbmetaPath, nil); err != nil {
		return "", false, err
	}

	changed, err := pathutil.ReplaceIfChanged(tmp, final)
	if err != nil {
		return "", false, err
	}
	return final, changed, nil
}

// renumberCollisions resolves value collisions between distinct
// avb_*_rollback_index_location keys of the merged map: keys are visited
// in sorted order, the first key holding a value keeps it, and every later
// key with the same value is renumbered to the next unused integer. Which
// archive a key came from is not considered. MergeMiscInfo has already let
// the vendor (default) side's value win on an exact key collision.
func renumberCollisions(merged MiscInfo) MiscInfo {
	used := map[int]bool{}
	keys := rollbackIndexLocationKeys(merged)
	for _, k := range keys {
		if n, err := strconv.Atoi(merged[k]); err == nil {
			used[n] = true
		}
	}

	next := 1
	nextFree := func() int {
		for used[next] {
			next++
		}
		used[next] = true
		return next
	}

	seen := map[int]bool{}
	for _, k := range keys {
		n, err := strconv.Atoi(merged[k])
		if err != nil {
			continue
		}
		if seen[n] {
			merged[k] = strconv.Itoa(nextFree())
			continue
		}
		seen[n] = true
	}
	return merged
}

func rollbackIndexLocationKeys(m MiscInfo) []string {
	var keys []string
	for k := range m {
		if strings.HasPrefix(k, "avb_") && strings.HasSuffix(k, "_rollback_index_location") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func extractedImageNames(maps ...map[string]string) []string {
	var out []string
	for _, m := range maps {
		for _, path := range m {
			out = append(out, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}

func buildSuperImage(ctx context.Context, miscInfoPath, buildTree, out string) error {
	exit, err := subprocess.Run(ctx, []string{
		"build_super_image", "-v", miscInfoPath, buildTree, out,
	}, nil, "", nil)
	if err != nil {
		return err
	}
	if !exit.OK() {
		return cvderrors.Newf(cvderrors.KindSubprocess, "build_super_image: %s", exit.String())
	}
	return nil
}

// zipEntries lists every entry name in a target-files archive.
func zipEntries(zipPath string) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to open target-files zip %q", zipPath)
	}
	defer r.Close()

	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, strings.TrimPrefix(f.Name, "/"))
	}
	return names, nil
}

// extractText pulls a single text entry out of a target-files zip and
// returns its contents.
func extractText(zipPath, entry, scratchDir string) ([]byte, error) {
	extracted, err := pathutil.ExtractZipEntries(zipPath, []string{entry}, filepath.Join(scratchDir, "meta_scratch"))
	if err != nil {
		return nil, err
	}
	data, readErr := os.ReadFile(extracted[entry])
	if readErr != nil {
		return nil, cvderrors.Wrapf(cvderrors.KindFilesystem, readErr, "failed to read extracted %q", entry)
	}
	return data, nil
}

func writeUnder(root, rel string, data []byte) error {
	path := filepath.Join(root, rel)
	if err := pathutil.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, pathutil.FileMode); err != nil {
		return cvderrors.Wrapf(cvderrors.KindFilesystem, err, "failed to write %q", path)
	}
	return nil
}
