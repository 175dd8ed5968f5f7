// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package superimage implements spec.md §4.5.6: combining a "default" and
// a "system" target-files archive into one super-image build tree.
package superimage

import (
	"bufio"
	"sort"
	"strings"

	"github.com/google/cuttlefish/cvderrors"
)

// MiscInfo is a key-unique property map, the in-memory form of
// META/misc_info.txt.
type MiscInfo map[string]string

// ParseMiscInfo parses the `key=value` lines of misc_info.txt. Blank lines
// and lines starting with '#' are ignored.
func ParseMiscInfo(data []byte) (MiscInfo, error) {
	m := MiscInfo{}
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return nil, cvderrors.Newf(cvderrors.KindInvariant, "malformed misc_info line: %q", line)
		}
		m[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return m, nil
}

// WriteMiscInfo serializes m back to misc_info.txt form, one `key=value`
// line per entry sorted by key so the output is deterministic (spec.md §8
// round-trip property: ParseMiscInfo(WriteMiscInfo(m)) = m).
func WriteMiscInfo(m MiscInfo) []byte {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(m[k])
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// MergeMiscInfo implements spec.md §8 scenario 4: the combined misc_info
// equals the vendor (default) side's value for every key the two share,
// and also carries every key unique to either side.
func MergeMiscInfo(vendorDefault, system MiscInfo) MiscInfo {
	out := MiscInfo{}
	for k, v := range system {
		out[k] = v
	}
	for k, v := range vendorDefault {
		out[k] = v
	}
	return out
}

// DynamicPartitionsInfo is the parsed form of
// META/dynamic_partitions_info.txt: a space-separated partition list plus
// the same `key=value` properties misc_info uses for everything else.
type DynamicPartitionsInfo struct {
	Props MiscInfo
}

// PartitionList reads the "dynamic_partition_list" (or, absent that,
// "super_partition_list") key as a space-separated partition name list.
func (d DynamicPartitionsInfo) PartitionList() []string {
	for _, key := range []string{"dynamic_partition_list", "super_partition_list"} {
		if v, ok := d.Props[key]; ok {
			return strings.Fields(v)
		}
	}
	return nil
}

// MergeDynamicPartitionsInfo implements spec.md §8 scenario 4:
// `dynamic_partition_list` in the merged result is the intersection of
// the vendor and system partition lists, plus `extracted_images`.
func MergeDynamicPartitionsInfo(vendorDefault, system DynamicPartitionsInfo, extractedImages []string) DynamicPartitionsInfo {
	vendorSet := toSet(vendorDefault.PartitionList())
	systemList := system.PartitionList()

	var intersection []string
	for _, p := range systemList {
		if vendorSet[p] {
			intersection = append(intersection, p)
		}
	}
	intersection = append(intersection, extractedImages...)

	props := MiscInfo{}
	for k, v := range system.Props {
		props[k] = v
	}
	for k, v := range vendorDefault.Props {
		props[k] = v
	}
	props["dynamic_partition_list"] = strings.Join(intersection, " ")

	return DynamicPartitionsInfo{Props: props}
}

func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, it := range items {
		s[it] = true
	}
	return s
}
