// Package registry implements the process registry: the periodic full
// scan that is the authoritative current process table, and the delta
// bookkeeping that turns two successive cumulative-CPU-time readings into
// a cpu_percent. It is the single most contended piece of shared state in
// the daemon — rewritten wholesale once per sampling tick, read
// concurrently by every client session.
package registry

import (
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/EricHayter/qnx-rpm-server/model"
	"github.com/EricHayter/qnx-rpm-server/probe"
)

// ErrSamplingFailed is returned when the process filesystem itself could
// not be enumerated; existing state is left untouched by the caller.
var ErrSamplingFailed = errors.New("sampling failed")

// GroupLookup is satisfied by *groups.Index without registry importing
// the groups package: the registry only knows about a PID's group_id
// through this narrow, registry-defined interface, keeping the
// Server → {Registry, History, Groups} → Probe dependency graph acyclic.
type GroupLookup interface {
	GroupOf(pid int32) int32
}

// Prober is the slice of the probe package Rescan needs. It is an
// interface, rather than a direct call into package probe, so tests can
// drive Rescan against a synthetic process table instead of the host's
// real /proc.
type Prober interface {
	ListPIDs() ([]int32, error)
	ReadSnapshot(pid int32) (model.Snapshot, error)
}

type osProber struct{}

func (osProber) ListPIDs() ([]int32, error)                    { return probe.ListPIDs() }
func (osProber) ReadSnapshot(pid int32) (model.Snapshot, error) { return probe.ReadSnapshot(pid) }

// Registry holds the most recently completed scan plus the per-PID state
// needed to derive the next one's cpu_percent values. Only the sampler
// task calls Rescan, and it does so from a single goroutine, so lastCPU,
// firstSeen, and lastScanTime need no lock of their own; processes is
// guarded because request-handler goroutines read it concurrently with
// the next Rescan's write.
type Registry struct {
	mu        sync.RWMutex
	processes map[int32]model.Record

	lastCPU      map[int32]uint64
	firstSeen    map[int32]time.Time
	lastScanTime time.Time

	ncpu   int
	groups GroupLookup
	prober Prober
	logger *log.Logger
}

// New constructs a Registry that samples the real OS process filesystem.
// ncpu should come from probe.NumCPU(); groups may be nil, in which case
// every record's GroupID is reported as 0.
func New(ncpu int, groups GroupLookup, logger *log.Logger) *Registry {
	return NewWithProber(ncpu, groups, osProber{}, logger)
}

// NewWithProber constructs a Registry against a caller-supplied Prober,
// primarily for tests that need deterministic snapshots.
func NewWithProber(ncpu int, groups GroupLookup, prober Prober, logger *log.Logger) *Registry {
	if ncpu <= 0 {
		ncpu = 1
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[registry] ", log.LstdFlags)
	}
	return &Registry{
		processes: make(map[int32]model.Record),
		lastCPU:   make(map[int32]uint64),
		firstSeen: make(map[int32]time.Time),
		ncpu:      ncpu,
		groups:    groups,
		prober:    prober,
		logger:    logger,
	}
}

// NCPU reports the CPU count used to normalize cpu_percent.
func (r *Registry) NCPU() int { return r.ncpu }

// SetGroupLookup wires the group index in after construction, breaking the
// otherwise-circular dependency between a Registry and the *groups.Index
// built from it: main constructs the Registry with a nil lookup, builds
// the Index from that Registry, then calls this once before the sampler
// starts.
func (r *Registry) SetGroupLookup(groups GroupLookup) {
	r.groups = groups
}

// Rescan performs one full sampling pass: list every live PID, read its
// snapshot, derive cpu_percent from the delta against the previous scan,
// and replace the process table wholesale.
func (r *Registry) Rescan() (int, error) {
	now := time.Now()

	deltaNs := int64(time.Millisecond)
	if !r.lastScanTime.IsZero() {
		if d := now.Sub(r.lastScanTime).Nanoseconds(); d > deltaNs {
			deltaNs = d
		}
	}

	pids, err := r.prober.ListPIDs()
	if err != nil {
		r.logger.Printf("sampling failed: %v", err)
		return 0, ErrSamplingFailed
	}

	seen := make(map[int32]struct{}, len(pids))
	built := make(map[int32]model.Record, len(pids))

	for _, pid := range pids {
		snap, err := r.prober.ReadSnapshot(pid)
		if err != nil {
			if errors.Is(err, probe.ErrNotFound) {
				continue
			}
			r.logger.Printf("debug: skipping pid %d: %v", pid, err)
			continue
		}
		seen[pid] = struct{}{}

		var cpuPercent float64
		if prev, ok := r.lastCPU[pid]; ok {
			var deltaCPU uint64
			if snap.CumulativeCPUNs > prev {
				deltaCPU = snap.CumulativeCPUNs - prev
			}
			cpuPercent = float64(deltaCPU) / float64(deltaNs) * 100 / float64(r.ncpu)
		}
		r.lastCPU[pid] = snap.CumulativeCPUNs

		firstSeen, ok := r.firstSeen[pid]
		if !ok {
			firstSeen = now
			r.firstSeen[pid] = firstSeen
		}

		var groupID int32
		if r.groups != nil {
			groupID = r.groups.GroupOf(pid)
		}

		built[pid] = model.Record{
			Snapshot:   snap,
			CPUPercent: cpuPercent,
			GroupID:    groupID,
			FirstSeen:  firstSeen,
		}
	}

	for pid := range r.lastCPU {
		if _, ok := seen[pid]; !ok {
			delete(r.lastCPU, pid)
			delete(r.firstSeen, pid)
		}
	}

	r.mu.Lock()
	r.processes = built
	r.mu.Unlock()

	r.lastScanTime = now
	return len(built), nil
}

// SnapshotAll returns every current record. The slice is self-contained;
// it holds no reference into registry internals.
func (r *Registry) SnapshotAll() []model.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Record, 0, len(r.processes))
	for _, rec := range r.processes {
		out = append(out, rec)
	}
	return out
}

// Get returns one PID's current record.
func (r *Registry) Get(pid int32) (model.Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.processes[pid]
	return rec, ok
}

// UptimeMs reports how long the registry has continuously observed pid,
// in milliseconds, as a stand-in for a true process start time (which
// would require re-deriving the kernel's boot time).
func (r *Registry) UptimeMs(pid int32) (int64, bool) {
	rec, ok := r.Get(pid)
	if !ok {
		return 0, false
	}
	return time.Since(rec.FirstSeen).Milliseconds(), true
}

// AdjustPriority delegates a priority change to the OS via the probe.
// policy is accepted for wire-contract symmetry but currently unused; see
// probe.AdjustPriority.
func (r *Registry) AdjustPriority(pid int32, priority int32, policy int32) error {
	_ = policy
	return probe.AdjustPriority(pid, priority)
}
