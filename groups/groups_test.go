package groups

import (
	"os"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/EricHayter/qnx-rpm-server/model"
)

type stubRegistry struct {
	records []model.Record
}

func (s stubRegistry) SnapshotAll() []model.Record { return s.records }

func selfPID(t *testing.T) int32 {
	t.Helper()
	return int32(os.Getpid())
}

func TestCreateAndAddMembership(t *testing.T) {
	idx := New(stubRegistry{})
	g := idx.CreateGroup("workers", 5, "background workers")

	pid := selfPID(t)
	assert.Assert(t, idx.Add(pid, g))

	members, err := idx.Members(g)
	assert.NilError(t, err)
	_, ok := members[pid]
	assert.Assert(t, ok)
	assert.Equal(t, idx.GroupOf(pid), g)
}

func TestAddMovesFromPreviousGroup(t *testing.T) {
	idx := New(stubRegistry{})
	g1 := idx.CreateGroup("a", 0, "")
	g2 := idx.CreateGroup("b", 0, "")
	pid := selfPID(t)

	assert.Assert(t, idx.Add(pid, g1))
	assert.Assert(t, idx.Add(pid, g2))

	m1, _ := idx.Members(g1)
	_, stillInG1 := m1[pid]
	assert.Assert(t, !stillInG1)

	m2, _ := idx.Members(g2)
	_, inG2 := m2[pid]
	assert.Assert(t, inG2)
	assert.Equal(t, idx.GroupOf(pid), g2)
}

func TestAddRejectsUnknownGroup(t *testing.T) {
	idx := New(stubRegistry{})
	assert.Assert(t, !idx.Add(selfPID(t), 999))
}

func TestAddRejectsNonexistentPID(t *testing.T) {
	idx := New(stubRegistry{})
	g := idx.CreateGroup("x", 0, "")
	assert.Assert(t, !idx.Add(int32(1<<30), g))
}

func TestDeleteGroupUnassignsMembers(t *testing.T) {
	idx := New(stubRegistry{})
	g := idx.CreateGroup("x", 0, "")
	pid := selfPID(t)
	assert.Assert(t, idx.Add(pid, g))

	assert.Assert(t, idx.DeleteGroup(g))
	assert.Equal(t, idx.GroupOf(pid), int32(0))

	_, err := idx.Members(g)
	assert.ErrorIs(t, err, ErrUnknownGroup)
}

func TestRecomputeStatsAggregatesMembers(t *testing.T) {
	pid := selfPID(t)
	reg := stubRegistry{records: []model.Record{
		{Snapshot: model.Snapshot{PID: pid, MemoryBytes: 1024}, CPUPercent: 12.5},
	}}
	idx := New(reg)
	g := idx.CreateGroup("x", 0, "")
	assert.Assert(t, idx.Add(pid, g))
	assert.Assert(t, idx.Add(int32(1<<29), g) == false) // second PID never added: doesn't exist

	idx.RecomputeStats()

	groups := idx.List()
	assert.Equal(t, len(groups), 1)
	assert.Equal(t, groups[0].TotalCPU, 12.5)
	assert.Equal(t, groups[0].TotalMemory, uint64(1024))
}

func TestRenameGroup(t *testing.T) {
	idx := New(stubRegistry{})
	g := idx.CreateGroup("old", 0, "")
	assert.Assert(t, idx.RenameGroup(g, "new"))
	assert.Assert(t, !idx.RenameGroup(999, "nope"))
}
