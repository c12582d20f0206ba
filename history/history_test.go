package history

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestPushBoundsRingLength(t *testing.T) {
	r := New(60, 100)
	for i := 0; i < 120; i++ {
		r.Push(1, float64(i), uint64(i))
	}
	entries := r.Get(1)
	assert.Equal(t, len(entries), 60)

	for i := 1; i < len(entries); i++ {
		assert.Assert(t, !entries[i].Timestamp.Before(entries[i-1].Timestamp))
	}
	// Oldest surviving entry should be the 61st push (index 60, i.e. cpu=60).
	assert.Equal(t, entries[0].CPUPercent, float64(60))
	assert.Equal(t, entries[len(entries)-1].CPUPercent, float64(119))
}

func TestPushIgnoredOnceTrackedCapReached(t *testing.T) {
	r := New(60, 2)
	r.Push(1, 1, 1)
	r.Push(2, 1, 1)
	r.Push(3, 1, 1) // new PID, cap already at 2 -> no-op

	assert.Equal(t, r.TrackedCount(), 2)
	assert.Equal(t, len(r.Get(3)), 0)

	// Existing tracked PIDs can still be pushed to.
	r.Push(1, 2, 2)
	assert.Equal(t, len(r.Get(1)), 2)
}

func TestClearAndClearAll(t *testing.T) {
	r := New(60, 100)
	r.Push(1, 1, 1)
	r.Push(2, 1, 1)

	r.Clear(1)
	assert.Equal(t, len(r.Get(1)), 0)
	assert.Equal(t, r.TrackedCount(), 1)

	r.ClearAll()
	assert.Equal(t, r.TrackedCount(), 0)
}

func TestGetAllReturnsIndependentCopies(t *testing.T) {
	r := New(60, 100)
	r.Push(1, 1, 1)

	all := r.GetAll()
	all[1][0].CPUPercent = 999

	assert.Equal(t, r.Get(1)[0].CPUPercent, float64(1))
}
