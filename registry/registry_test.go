package registry

import (
	"errors"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/EricHayter/qnx-rpm-server/model"
)

type fakeProber struct {
	pids  []int32
	snaps map[int32]model.Snapshot
	err   error
}

func (f *fakeProber) ListPIDs() ([]int32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.pids, nil
}

func (f *fakeProber) ReadSnapshot(pid int32) (model.Snapshot, error) {
	snap, ok := f.snaps[pid]
	if !ok {
		return model.Snapshot{}, errors.New("not found")
	}
	return snap, nil
}

func TestRescanFirstScanZeroCPU(t *testing.T) {
	fp := &fakeProber{
		pids:  []int32{1},
		snaps: map[int32]model.Snapshot{1: {PID: 1, CumulativeCPUNs: 500_000_000}},
	}
	reg := NewWithProber(4, nil, fp, nil)

	n, err := reg.Rescan()
	assert.NilError(t, err)
	assert.Equal(t, n, 1)

	rec, ok := reg.Get(1)
	assert.Assert(t, ok)
	assert.Equal(t, rec.CPUPercent, float64(0))
}

func TestRescanDerivesCPUPercentFromDelta(t *testing.T) {
	fp := &fakeProber{
		pids:  []int32{1},
		snaps: map[int32]model.Snapshot{1: {PID: 1, CumulativeCPUNs: 0}},
	}
	reg := NewWithProber(1, nil, fp, nil)
	_, err := reg.Rescan()
	assert.NilError(t, err)

	// One full CPU-second consumed over roughly one wall-second: ~100%.
	reg.lastScanTime = time.Now().Add(-1 * time.Second)
	fp.snaps[1] = model.Snapshot{PID: 1, CumulativeCPUNs: 1_000_000_000}

	_, err = reg.Rescan()
	assert.NilError(t, err)

	rec, ok := reg.Get(1)
	assert.Assert(t, ok)
	assert.Assert(t, rec.CPUPercent > 80 && rec.CPUPercent < 120, "cpu percent out of bounds: %v", rec.CPUPercent)
}

func TestRescanClampsCounterReset(t *testing.T) {
	fp := &fakeProber{
		pids:  []int32{1},
		snaps: map[int32]model.Snapshot{1: {PID: 1, CumulativeCPUNs: 1_000_000_000}},
	}
	reg := NewWithProber(1, nil, fp, nil)
	_, err := reg.Rescan()
	assert.NilError(t, err)

	// Counter goes backwards (process restarted its accounting) -> clamp to 0 delta.
	fp.snaps[1] = model.Snapshot{PID: 1, CumulativeCPUNs: 10}
	_, err = reg.Rescan()
	assert.NilError(t, err)

	rec, ok := reg.Get(1)
	assert.Assert(t, ok)
	assert.Equal(t, rec.CPUPercent, float64(0))
}

func TestRescanPrunesVanishedPID(t *testing.T) {
	fp := &fakeProber{
		pids:  []int32{1, 2},
		snaps: map[int32]model.Snapshot{1: {PID: 1}, 2: {PID: 2}},
	}
	reg := NewWithProber(4, nil, fp, nil)
	_, err := reg.Rescan()
	assert.NilError(t, err)

	fp.pids = []int32{1}
	delete(fp.snaps, 2)
	_, err = reg.Rescan()
	assert.NilError(t, err)

	_, ok := reg.Get(2)
	assert.Assert(t, !ok)
	_, ok = reg.Get(1)
	assert.Assert(t, ok)
}

func TestRescanSamplingFailureKeepsPreviousState(t *testing.T) {
	fp := &fakeProber{
		pids:  []int32{1},
		snaps: map[int32]model.Snapshot{1: {PID: 1}},
	}
	reg := NewWithProber(4, nil, fp, nil)
	_, err := reg.Rescan()
	assert.NilError(t, err)

	fp.err = errors.New("proc filesystem unavailable")
	n, err := reg.Rescan()
	assert.ErrorIs(t, err, ErrSamplingFailed)
	assert.Equal(t, n, 0)

	// Stale data is still served.
	_, ok := reg.Get(1)
	assert.Assert(t, ok)
}

func TestRescanUsesGroupLookup(t *testing.T) {
	fp := &fakeProber{pids: []int32{1}, snaps: map[int32]model.Snapshot{1: {PID: 1}}}
	lookup := stubGroupLookup{groupID: 7}
	reg := NewWithProber(4, lookup, fp, nil)

	_, err := reg.Rescan()
	assert.NilError(t, err)

	rec, ok := reg.Get(1)
	assert.Assert(t, ok)
	assert.Equal(t, rec.GroupID, int32(7))
}

type stubGroupLookup struct{ groupID int32 }

func (s stubGroupLookup) GroupOf(int32) int32 { return s.groupID }
