// Copyright (c) 2026 The Cuttlefish Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package instancedb implements spec.md §3.1, §3.2, and §4.3: the
// in-memory set of instance groups, persisted as JSON, that the control
// plane uses to track every running device. Modeled on the teacher's
// virtcontainers/persist/fs sandbox-state store, adapted from one sandbox
// per process to many instance groups per daemon.
package instancedb

import (
	"encoding/json"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/google/cuttlefish/cvderrors"
)

var log = logrus.WithField("subsystem", "instancedb")

// State is an instance's lifecycle state (spec.md §3.2).
type State string

const (
	Preparing   State = "PREPARING"
	Running     State = "RUNNING"
	Starting    State = "STARTING"
	Stopped     State = "STOPPED"
	Unreachable State = "UNREACHABLE"
	Cancelled   State = "CANCELLED"
	Failed      State = "FAILED"
)

// Instance is one numbered Cuttlefish device within a group.
type Instance struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	State State  `json:"state"`
}

// Group is an instance group: a set of instances co-hosted from one home
// directory and host-artifacts tree (spec.md §3.1).
type Group struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	HomeDir          string     `json:"home_dir"`
	HostArtifactsDir string     `json:"host_artifacts_dir"`
	ProductOutDir    string     `json:"product_out_dir"`
	CreatedAt        time.Time  `json:"created_at"`
	Instances        []Instance `json:"instances"`
}

// clone returns a deep copy so callers mutating a returned Group cannot
// corrupt the database's internal state (spec.md §5 "readers clone the
// needed rows").
func (g Group) clone() Group {
	cp := g
	cp.Instances = append([]Instance(nil), g.Instances...)
	return cp
}

// Query selects groups or instances by one field (spec.md §4.3).
type Query struct {
	Home         string
	GroupName    string
	InstanceName string
	InstanceID   int // 0 means "unset"
}

func (q Query) matchesGroup(g *Group) bool {
	if q.Home != "" && q.Home != g.HomeDir {
		return false
	}
	if q.GroupName != "" && q.GroupName != g.Name {
		return false
	}
	if q.InstanceID != 0 && !g.hasInstanceID(q.InstanceID) {
		return false
	}
	if q.InstanceName != "" && !g.hasInstanceName(q.InstanceName) {
		return false
	}
	return true
}

func (g *Group) hasInstanceID(id int) bool {
	for _, i := range g.Instances {
		if i.ID == id {
			return true
		}
	}
	return false
}

func (g *Group) hasInstanceName(name string) bool {
	for _, i := range g.Instances {
		if i.Name == name {
			return true
		}
	}
	return false
}

// DB is the in-memory, JSON-serializable set of instance groups. A single
// internal mutex serializes all mutations (spec.md §5 "Database mutations
// are serialized by the database's internal lock"); handlers that also
// call subprocesses must not hold this lock across the subprocess wait.
type DB struct {
	mu     sync.Mutex
	groups map[string]*Group // keyed by group name
	homes  map[string]bool   // home dir uniqueness
	ids    map[int]string    // instance id -> owning group name
}

// New returns an empty database.
func New() *DB {
	return &DB{
		groups: make(map[string]*Group),
		homes:  make(map[string]bool),
		ids:    make(map[int]string),
	}
}

// AddGroup inserts g, rejecting a duplicate group name, a duplicate home
// directory, or any instance id already owned by another group (spec.md
// §3.1 invariants, §4.3 AddGroup).
func (db *DB) AddGroup(g Group) (Group, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if g.Name == "" {
		g.Name = db.nextAutoNameLocked()
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}

	if _, exists := db.groups[g.Name]; exists {
		return Group{}, cvderrors.Newf(cvderrors.KindInvariant, "group name %q already in use", g.Name)
	}
	if db.homes[g.HomeDir] {
		return Group{}, cvderrors.Newf(cvderrors.KindInvariant, "home directory %q already in use", g.HomeDir)
	}
	for _, inst := range g.Instances {
		if owner, ok := db.ids[inst.ID]; ok {
			return Group{}, cvderrors.Newf(cvderrors.KindInvariant, "instance id %d already owned by group %q", inst.ID, owner)
		}
	}

	stored := g.clone()
	db.groups[g.Name] = &stored
	db.homes[g.HomeDir] = true
	for _, inst := range g.Instances {
		db.ids[inst.ID] = g.Name
	}

	log.WithField("group", g.Name).WithField("home", g.HomeDir).Info("group added")
	return stored.clone(), nil
}

func (db *DB) nextAutoNameLocked() string {
	for n := 1; ; n++ {
		name := autoGroupName(n)
		if _, exists := db.groups[name]; !exists {
			return name
		}
	}
}

func autoGroupName(n int) string {
	return "cvd-" + strconv.Itoa(n)
}

// RemoveGroup deletes the named group, releasing its home and instance-id
// reservations. It is a no-op if the group does not exist.
func (db *DB) RemoveGroup(name string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.removeGroupLocked(name)
}

func (db *DB) removeGroupLocked(name string) {
	g, ok := db.groups[name]
	if !ok {
		return
	}
	delete(db.homes, g.HomeDir)
	for _, inst := range g.Instances {
		delete(db.ids, inst.ID)
	}
	delete(db.groups, name)
	log.WithField("group", name).Info("group removed")
}

// FindGroups returns every group matching every non-zero field of q.
func (db *DB) FindGroups(q Query) []Group {
	db.mu.Lock()
	defer db.mu.Unlock()

	var out []Group
	for _, g := range db.groups {
		if q.matchesGroup(g) {
			out = append(out, g.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FindInstances returns every instance matching q; the owning group's name
// is not included.
func (db *DB) FindInstances(q Query) []Instance {
	var out []Instance
	for _, g := range db.FindGroups(q) {
		for _, inst := range g.Instances {
			if q.InstanceID != 0 && inst.ID != q.InstanceID {
				continue
			}
			if q.InstanceName != "" && inst.Name != q.InstanceName {
				continue
			}
			out = append(out, inst)
		}
	}
	return out
}

// AllGroups returns every group, sorted by name (spec.md §4.3 "sorted order
// on group name is the canonical display order").
func (db *DB) AllGroups() []Group {
	return db.FindGroups(Query{})
}

// UpdateInstance writes back inst's state within group groupName.
func (db *DB) UpdateInstance(groupName string, inst Instance) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	g, ok := db.groups[groupName]
	if !ok {
		return cvderrors.Newf(cvderrors.KindNotFound, "no such group %q", groupName)
	}
	for i := range g.Instances {
		if g.Instances[i].ID == inst.ID {
			g.Instances[i] = inst
			return nil
		}
	}
	return cvderrors.Newf(cvderrors.KindNotFound, "group %q has no instance %d", groupName, inst.ID)
}

// Clear empties the database, returning its former contents so the caller
// can perform cleanup (spec.md §4.3 Clear).
func (db *DB) Clear() []Group {
	db.mu.Lock()
	defer db.mu.Unlock()

	out := make([]Group, 0, len(db.groups))
	for _, g := range db.groups {
		out = append(out, g.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	db.groups = make(map[string]*Group)
	db.homes = make(map[string]bool)
	db.ids = make(map[int]string)
	return out
}

// snapshot is the JSON-serializable form of the database (spec.md §4.1
// step 1: "Serializes its instance-database to JSON").
type snapshot struct {
	Groups []Group `json:"groups"`
}

// Serialize returns the total round-trip JSON representation of db.
func (db *DB) Serialize() ([]byte, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	s := snapshot{Groups: make([]Group, 0, len(db.groups))}
	for _, g := range db.groups {
		s.Groups = append(s.Groups, g.clone())
	}
	sort.Slice(s.Groups, func(i, j int) bool { return s.Groups[i].Name < s.Groups[j].Name })

	out, err := json.Marshal(s)
	if err != nil {
		return nil, cvderrors.Wrap(cvderrors.KindInvariant, err, "failed to serialize instance database")
	}
	return out, nil
}

// LoadFromJSON replaces db's contents with the snapshot encoded in data.
// LoadFromJSON(Serialize()) is a no-op round trip (spec.md §8 invariant 4).
func (db *DB) LoadFromJSON(data []byte) error {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return cvderrors.Wrap(cvderrors.KindInvariant, err, "failed to parse instance database snapshot")
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	db.groups = make(map[string]*Group, len(s.Groups))
	db.homes = make(map[string]bool, len(s.Groups))
	db.ids = make(map[int]string)
	for _, g := range s.Groups {
		stored := g.clone()
		db.groups[g.Name] = &stored
		db.homes[g.HomeDir] = true
		for _, inst := range g.Instances {
			db.ids[inst.ID] = g.Name
		}
	}
	return nil
}
