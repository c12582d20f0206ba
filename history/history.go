// Package history maintains a bounded per-PID ring buffer of resource
// usage samples. It is written once per sampling tick and read by request
// handlers; the same protected-region discipline as the registry applies
// (writer holds the lock only for the append, readers copy out and
// release immediately).
package history

import (
	"sync"
	"time"

	"github.com/EricHayter/qnx-rpm-server/model"
)

// Defaults for H_MAX and P_MAX.
const (
	DefaultHistoryMax = 60
	DefaultTrackedMax = 100
)

// Ring is the per-daemon history store.
type Ring struct {
	mu      sync.RWMutex
	hMax    int
	pMax    int
	entries map[int32][]model.HistoryEntry
}

// New constructs a Ring bounding each PID's history to hMax entries and
// the number of distinct tracked PIDs to pMax.
func New(hMax, pMax int) *Ring {
	if hMax <= 0 {
		hMax = DefaultHistoryMax
	}
	if pMax <= 0 {
		pMax = DefaultTrackedMax
	}
	return &Ring{
		hMax:    hMax,
		pMax:    pMax,
		entries: make(map[int32][]model.HistoryEntry),
	}
}

// Push appends one sample for pid. If pid is not yet tracked and the
// tracked-PID cap is already reached, the call is a silent no-op.
func (r *Ring) Push(pid int32, cpuPercent float64, memoryBytes uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list, tracked := r.entries[pid]
	if !tracked && len(r.entries) >= r.pMax {
		return
	}

	list = append(list, model.HistoryEntry{
		CPUPercent:  cpuPercent,
		MemoryBytes: memoryBytes,
		Timestamp:   time.Now(),
	})
	if len(list) > r.hMax {
		list = list[len(list)-r.hMax:]
	}
	r.entries[pid] = list
}

// Get returns pid's history oldest-first. The returned slice is a copy;
// mutating it has no effect on the ring.
func (r *Ring) Get(pid int32) []model.HistoryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src := r.entries[pid]
	out := make([]model.HistoryEntry, len(src))
	copy(out, src)
	return out
}

// GetAll returns a snapshot of every tracked PID's history.
func (r *Ring) GetAll() map[int32][]model.HistoryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[int32][]model.HistoryEntry, len(r.entries))
	for pid, list := range r.entries {
		cp := make([]model.HistoryEntry, len(list))
		copy(cp, list)
		out[pid] = cp
	}
	return out
}

// Clear discards pid's history.
func (r *Ring) Clear(pid int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, pid)
}

// ClearAll discards every PID's history.
func (r *Ring) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[int32][]model.HistoryEntry)
}

// TrackedCount reports how many distinct PIDs currently have history.
func (r *Ring) TrackedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
