// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package instancedb

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/cuttlefish/cvderrors"
)

func TestAddGroupRejectsDuplicateName(t *testing.T) {
	db := New()

	_, err := db.AddGroup(Group{Name: "cvd-1", HomeDir: "/home/a", Instances: []Instance{{ID: 1, Name: "cvd-1"}}})
	require.NoError(t, err)

	_, err = db.AddGroup(Group{Name: "cvd-1", HomeDir: "/home/b", Instances: []Instance{{ID: 2, Name: "cvd-1"}}})
	require.Error(t, err)
	assert.Equal(t, cvderrors.KindInvariant, cvderrors.GetKind(err))
}

func TestAddGroupRejectsDuplicateHome(t *testing.T) {
	db := New()
	_, err := db.AddGroup(Group{Name: "cvd-1", HomeDir: "/home/a", Instances: []Instance{{ID: 1}}})
	require.NoError(t, err)

	_, err = db.AddGroup(Group{Name: "cvd-2", HomeDir: "/home/a", Instances: []Instance{{ID: 2}}})
	require.Error(t, err)
}

func TestAddGroupRejectsOverlappingInstanceIDs(t *testing.T) {
	db := New()
	_, err := db.AddGroup(Group{Name: "cvd-1", HomeDir: "/home/a", Instances: []Instance{{ID: 1}, {ID: 2}}})
	require.NoError(t, err)

	_, err = db.AddGroup(Group{Name: "cvd-2", HomeDir: "/home/b", Instances: []Instance{{ID: 2}, {ID: 3}}})
	require.Error(t, err)

	// The second group must leave no row behind.
	assert.Empty(t, db.FindGroups(Query{GroupName: "cvd-2"}))
}

func TestAutoGroupName(t *testing.T) {
	db := New()
	g1, err := db.AddGroup(Group{HomeDir: "/home/a"})
	require.NoError(t, err)
	assert.Equal(t, "cvd-1", g1.Name)

	g2, err := db.AddGroup(Group{HomeDir: "/home/b"})
	require.NoError(t, err)
	assert.Equal(t, "cvd-2", g2.Name)
}

func TestFindGroupsSortedByName(t *testing.T) {
	db := New()
	_, err := db.AddGroup(Group{Name: "cvd-2", HomeDir: "/home/b"})
	require.NoError(t, err)
	_, err = db.AddGroup(Group{Name: "cvd-1", HomeDir: "/home/a"})
	require.NoError(t, err)

	groups := db.AllGroups()
	require.Len(t, groups, 2)
	assert.Equal(t, "cvd-1", groups[0].Name)
	assert.Equal(t, "cvd-2", groups[1].Name)
}

func TestFindGroupsCloneIsolatesCaller(t *testing.T) {
	db := New()
	_, err := db.AddGroup(Group{Name: "cvd-1", HomeDir: "/home/a", Instances: []Instance{{ID: 1, State: Running}}})
	require.NoError(t, err)

	groups := db.FindGroups(Query{GroupName: "cvd-1"})
	require.Len(t, groups, 1)
	groups[0].Instances[0].State = Stopped

	groups2 := db.FindGroups(Query{GroupName: "cvd-1"})
	assert.Equal(t, Running, groups2[0].Instances[0].State)
}

func TestUpdateInstance(t *testing.T) {
	db := New()
	_, err := db.AddGroup(Group{Name: "cvd-1", HomeDir: "/home/a", Instances: []Instance{{ID: 1, State: Running}}})
	require.NoError(t, err)

	require.NoError(t, db.UpdateInstance("cvd-1", Instance{ID: 1, State: Stopped}))

	groups := db.FindGroups(Query{GroupName: "cvd-1"})
	assert.Equal(t, Stopped, groups[0].Instances[0].State)
}

func TestClearReturnsFormerContents(t *testing.T) {
	db := New()
	_, err := db.AddGroup(Group{Name: "cvd-1", HomeDir: "/home/a", Instances: []Instance{{ID: 1}}})
	require.NoError(t, err)

	cleared := db.Clear()
	require.Len(t, cleared, 1)
	assert.Empty(t, db.AllGroups())
}

func TestSerializeRoundTrip(t *testing.T) {
	db := New()
	_, err := db.AddGroup(Group{Name: "cvd-1", HomeDir: "/home/a", Instances: []Instance{{ID: 1, Name: "cvd-1", State: Running}}})
	require.NoError(t, err)
	_, err = db.AddGroup(Group{Name: "cvd-2", HomeDir: "/home/b", Instances: []Instance{{ID: 2, Name: "cvd-1"}}})
	require.NoError(t, err)

	data, err := db.Serialize()
	require.NoError(t, err)

	restored := New()
	require.NoError(t, restored.LoadFromJSON(data))

	if diff := cmp.Diff(db.AllGroups(), restored.AllGroups()); diff != "" {
		t.Errorf("LoadFromJSON(Serialize(db)) != db (-original +restored):\n%s", diff)
	}
}

func TestFindInstancesByID(t *testing.T) {
	db := New()
	_, err := db.AddGroup(Group{Name: "cvd-1", HomeDir: "/home/a", Instances: []Instance{{ID: 1}, {ID: 2}}})
	require.NoError(t, err)

	instances := db.FindInstances(Query{InstanceID: 2})
	require.Len(t, instances, 1)
	assert.Equal(t, 2, instances[0].ID)
}
