// Package groups implements the group index: administrator-defined named
// collections of PIDs with aggregated resource usage, recomputed once per
// sampling tick from the registry's latest snapshot.
package groups

import (
	"errors"
	"sync"

	"github.com/EricHayter/qnx-rpm-server/model"
	"github.com/EricHayter/qnx-rpm-server/probe"
)

// ErrUnknownGroup is returned by Members for a group ID that does not
// exist (never having existed, or already deleted).
var ErrUnknownGroup = errors.New("unknown group")

// RegistryReader is the read-only slice of the registry RecomputeStats
// needs. It is deliberately a bulk read: RecomputeStats takes the
// registry's lock exactly once, outside of the group lock, and only then
// takes the group lock to apply the aggregates. That ordering — acquire
// and release Registry, then acquire Groups — is the only lock pattern
// that touches both regions, so no ordering cycle with any other code
// path can arise.
type RegistryReader interface {
	SnapshotAll() []model.Record
}

// Index is the group table.
type Index struct {
	mu       sync.RWMutex
	nextID   int32
	groups   map[int32]*model.Group
	memberOf map[int32]int32
	registry RegistryReader
}

// New constructs an empty Index backed by registry for stat recomputation.
func New(registry RegistryReader) *Index {
	return &Index{
		nextID:   1,
		groups:   make(map[int32]*model.Group),
		memberOf: make(map[int32]int32),
		registry: registry,
	}
}

// CreateGroup registers a new, empty group and returns its ID. IDs are
// assigned monotonically from 1; 0 is reserved for "unassigned".
func (idx *Index) CreateGroup(name string, priority int32, description string) int32 {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	id := idx.nextID
	idx.nextID++
	idx.groups[id] = &model.Group{
		ID:          id,
		Name:        name,
		Priority:    priority,
		Description: description,
		Members:     make(map[int32]struct{}),
	}
	return id
}

// DeleteGroup removes a group, unassigning every member (their
// pid -> group_id mapping is erased, but the processes themselves are
// untouched).
func (idx *Index) DeleteGroup(id int32) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	g, ok := idx.groups[id]
	if !ok {
		return false
	}
	for pid := range g.Members {
		delete(idx.memberOf, pid)
	}
	delete(idx.groups, id)
	return true
}

// RenameGroup changes a group's display name.
func (idx *Index) RenameGroup(id int32, name string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	g, ok := idx.groups[id]
	if !ok {
		return false
	}
	g.Name = name
	return true
}

// Add assigns pid to groupID, first removing it from any group it
// previously belonged to. It rejects an unknown group or a PID for which
// probe.Exists is false.
func (idx *Index) Add(pid int32, groupID int32) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	g, ok := idx.groups[groupID]
	if !ok {
		return false
	}
	if !probe.Exists(pid) {
		return false
	}

	if prevID, wasMember := idx.memberOf[pid]; wasMember && prevID != groupID {
		if prev, ok := idx.groups[prevID]; ok {
			delete(prev.Members, pid)
		}
	}

	g.Members[pid] = struct{}{}
	idx.memberOf[pid] = groupID
	return true
}

// Remove drops pid from groupID if it is currently a member of it.
func (idx *Index) Remove(pid int32, groupID int32) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	g, ok := idx.groups[groupID]
	if !ok {
		return false
	}
	if _, member := g.Members[pid]; !member {
		return false
	}
	delete(g.Members, pid)
	if idx.memberOf[pid] == groupID {
		delete(idx.memberOf, pid)
	}
	return true
}

// GroupOf reports pid's current group, or 0 if unassigned. It satisfies
// registry.GroupLookup structurally.
func (idx *Index) GroupOf(pid int32) int32 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if id, ok := idx.memberOf[pid]; ok {
		return id
	}
	return 0
}

// Members returns a copy of a group's member set, or ErrUnknownGroup.
func (idx *Index) Members(id int32) (map[int32]struct{}, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	g, ok := idx.groups[id]
	if !ok {
		return nil, ErrUnknownGroup
	}
	out := make(map[int32]struct{}, len(g.Members))
	for pid := range g.Members {
		out[pid] = struct{}{}
	}
	return out, nil
}

// List returns every group with its current aggregates, self-contained.
func (idx *Index) List() []model.Group {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]model.Group, 0, len(idx.groups))
	for _, g := range idx.groups {
		out = append(out, cloneGroup(g))
	}
	return out
}

// RecomputeStats refreshes every group's total_cpu and total_memory from
// the registry's latest scan, dropping any member PID the registry no
// longer knows about.
func (idx *Index) RecomputeStats() {
	records := idx.registry.SnapshotAll()
	byPID := make(map[int32]model.Record, len(records))
	for _, rec := range records {
		byPID[rec.PID] = rec
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, g := range idx.groups {
		var totalCPU float64
		var totalMemory uint64
		for pid := range g.Members {
			rec, ok := byPID[pid]
			if !ok {
				delete(g.Members, pid)
				delete(idx.memberOf, pid)
				continue
			}
			totalCPU += rec.CPUPercent
			totalMemory += rec.MemoryBytes
		}
		g.TotalCPU = totalCPU
		g.TotalMemory = totalMemory
	}
}

func cloneGroup(g *model.Group) model.Group {
	cp := *g
	cp.Members = make(map[int32]struct{}, len(g.Members))
	for pid := range g.Members {
		cp.Members[pid] = struct{}{}
	}
	return cp
}
