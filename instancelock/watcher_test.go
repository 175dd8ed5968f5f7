// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package instancelock

import "testing"

func TestIDFromLockName(t *testing.T) {
	cases := []struct {
		name   string
		wantID int
		wantOK bool
	}{
		{"3.lock", 3, true},
		{"42.lock", 42, true},
		{"notanid.lock", 0, false},
		{"3.tmp", 0, false},
	}
	for _, c := range cases {
		id, ok := idFromLockName(c.name)
		if ok != c.wantOK || (ok && id != c.wantID) {
			t.Errorf("idFromLockName(%q) = (%d, %v); want (%d, %v)", c.name, id, ok, c.wantID, c.wantOK)
		}
	}
}
