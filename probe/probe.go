// Package probe performs stateless reads of a single process's attributes
// from the OS process filesystem, and delivers the signals that back the
// daemon's suspend/resume/terminate control operations. Every call touches
// the OS directly; nothing here is cached.
package probe

import (
	"errors"
	"syscall"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"

	"github.com/EricHayter/qnx-rpm-server/model"
)

// Sentinel errors returned by ReadSnapshot and SendSignal. Callers switch
// on these with errors.Is; they are never wrapped with additional context
// because the server maps them 1:1 onto wire error messages.
var (
	ErrNotFound         = errors.New("process not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrMalformed        = errors.New("malformed process record")
)

// NumCPU reports the number of logical CPUs. main queries it once at
// startup and hands it to the registry, which uses it to normalize
// cpu_percent.
func NumCPU() (int, error) {
	counts, err := cpu.Counts(true)
	if err != nil {
		return 0, err
	}
	if counts <= 0 {
		counts = 1
	}
	return counts, nil
}

// ListPIDs returns every PID with a live entry in the process filesystem.
func ListPIDs() ([]int32, error) {
	return process.Pids()
}

// ReadSnapshot reads one process's attributes. It tolerates the process
// disappearing mid-read: any failure attributable to the PID no longer
// existing is reported as ErrNotFound, never ErrMalformed. Failures on
// optional fields (name, memory, threads, priority, state) default the
// field to its zero value instead of failing the whole read; only a
// failure to read the cumulative CPU time is fatal to the snapshot.
func ReadSnapshot(pid int32) (model.Snapshot, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		if isGone(err) {
			return model.Snapshot{}, ErrNotFound
		}
		return model.Snapshot{}, ErrMalformed
	}

	snap := model.Snapshot{PID: pid}

	if ppid, err := proc.Ppid(); err == nil {
		snap.ParentPID = ppid
	}
	if name, err := proc.Name(); err == nil {
		snap.Name = stripArgs(name)
	} else if isGone(err) {
		return model.Snapshot{}, ErrNotFound
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		snap.MemoryBytes = mem.RSS
	}
	if threads, err := proc.NumThreads(); err == nil && threads > 0 {
		snap.ThreadCount = uint32(threads)
	}
	if nice, err := proc.Nice(); err == nil {
		snap.Priority = nice
	}
	if statuses, err := proc.Status(); err == nil {
		snap.StateCode = stateCode(statuses)
	}
	// Scheduling policy is not exposed portably through gopsutil; the
	// daemon reports SCHED_OTHER (0) uniformly and treats it as opaque,
	// as an OS-defined value, passed through opaquely.
	snap.Policy = 0

	times, err := proc.Times()
	if err != nil {
		if isGone(err) {
			return model.Snapshot{}, ErrNotFound
		}
		return model.Snapshot{}, ErrMalformed
	}
	total := times.User + times.System
	if total < 0 {
		return model.Snapshot{}, ErrMalformed
	}
	snap.CumulativeCPUNs = uint64(total * 1e9)

	return snap, nil
}

// SendSignal delivers sig to pid via the OS signal primitive.
func SendSignal(pid int32, sig syscall.Signal) error {
	err := unix.Kill(int(pid), sig)
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, unix.ESRCH):
		return ErrNotFound
	case errors.Is(err, unix.EPERM):
		return ErrPermissionDenied
	default:
		return err
	}
}

// Suspend stops pid (SIGSTOP). Sent twice to an already-stopped process it
// is a no-op at the OS level and succeeds both times.
func Suspend(pid int32) error { return SendSignal(pid, unix.SIGSTOP) }

// Resume continues a stopped pid (SIGCONT).
func Resume(pid int32) error { return SendSignal(pid, unix.SIGCONT) }

// Terminate asks pid to exit (SIGTERM).
func Terminate(pid int32) error { return SendSignal(pid, unix.SIGTERM) }

// Exists reports whether the null signal can be delivered to pid. It is
// false when pid has no live process, and also when pid is live but the
// daemon lacks permission to signal it.
func Exists(pid int32) bool {
	return SendSignal(pid, syscall.Signal(0)) == nil
}

// AdjustPriority delegates a priority change to the OS by setting pid's
// nice value. It takes no scheduling policy; pid's policy is left
// unchanged.
func AdjustPriority(pid int32, priority int32) error {
	err := unix.Setpriority(unix.PRIO_PROCESS, int(pid), int(priority))
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, unix.ESRCH):
		return ErrNotFound
	case errors.Is(err, unix.EPERM), errors.Is(err, unix.EACCES):
		return ErrPermissionDenied
	default:
		return err
	}
}

func isGone(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, process.ErrorProcessNotRunning) {
		return true
	}
	if errors.Is(err, syscall.ESRCH) {
		return true
	}
	return false
}

// stripArgs keeps only the executable's own name, never its invocation
// arguments.
func stripArgs(name string) string {
	for i, r := range name {
		if r == ' ' || r == '\t' {
			return name[:i]
		}
	}
	return name
}

func stateCode(statuses []string) int32 {
	if len(statuses) == 0 {
		return -1
	}
	switch statuses[0] {
	case process.Running:
		return 0
	case process.Sleep:
		return 1
	case process.Stop:
		return 2
	case process.Idle:
		return 3
	case process.Zombie:
		return 4
	case process.Wait:
		return 5
	case process.Lock:
		return 6
	case process.Blocked:
		return 7
	default:
		return -1
	}
}
