// Package model holds the data types shared across the daemon: what the
// probe reads from the OS, what the registry derives from it, and what
// goes out on the wire to clients.
package model

import "time"

// Snapshot is a single, self-contained read of one process's attributes at
// one instant. It carries no history and no derived values.
type Snapshot struct {
	PID             int32  `json:"pid"`
	ParentPID       int32  `json:"parentPid"`
	Name            string `json:"name"`
	MemoryBytes     uint64 `json:"memoryBytes"`
	ThreadCount     uint32 `json:"threadCount"`
	Priority        int32  `json:"priority"`
	Policy          int32  `json:"policy"`
	StateCode       int32  `json:"stateCode"`
	CumulativeCPUNs uint64 `json:"cumulativeCpuNs"`
}

// Record wraps a Snapshot with the values only the registry can compute:
// a CPU percentage derived from two successive snapshots, and the group
// the PID currently belongs to.
type Record struct {
	Snapshot
	CPUPercent float64   `json:"cpuPercent"`
	GroupID    int32     `json:"groupId"`
	FirstSeen  time.Time `json:"-"`
}

// HistoryEntry is one sample in a per-PID ring. Timestamp is serialized as
// wall-clock milliseconds since the Unix epoch.
type HistoryEntry struct {
	CPUPercent  float64   `json:"cpuUsage"`
	MemoryBytes uint64    `json:"memoryUsage"`
	Timestamp   time.Time `json:"-"`
}

// TimestampMs returns the wire representation of Timestamp.
func (h HistoryEntry) TimestampMs() int64 {
	return h.Timestamp.UnixMilli()
}

// Role is a credential's authorization level.
type Role int

const (
	RoleViewer Role = 0
	RoleAdmin  Role = 1
)

func (r Role) String() string {
	if r == RoleAdmin {
		return "admin"
	}
	return "viewer"
}

// Group is a named, admin-defined collection of PIDs with aggregated
// resource usage recomputed once per sampling tick.
type Group struct {
	ID           int32           `json:"id"`
	Name         string          `json:"name"`
	Priority     int32           `json:"priority"`
	Description  string          `json:"description"`
	Members      map[int32]struct{} `json:"-"`
	TotalCPU     float64         `json:"totalCpu"`
	TotalMemory  uint64          `json:"totalMemory"`
}

// MemberPIDs returns the group's members as a sorted-free slice; callers
// that need a stable order sort it themselves.
func (g *Group) MemberPIDs() []int32 {
	pids := make([]int32, 0, len(g.Members))
	for pid := range g.Members {
		pids = append(pids, pid)
	}
	return pids
}
