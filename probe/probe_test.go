package probe

import (
	"os"
	"testing"

	"gotest.tools/v3/assert"
)

func TestReadSnapshotSelf(t *testing.T) {
	pid := int32(os.Getpid())

	snap, err := ReadSnapshot(pid)
	assert.NilError(t, err)
	assert.Equal(t, snap.PID, pid)
	assert.Assert(t, snap.CumulativeCPUNs >= 0)
}

func TestReadSnapshotNotFound(t *testing.T) {
	// A PID this large is exceedingly unlikely to be live.
	_, err := ReadSnapshot(int32(1 << 30))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExistsSelf(t *testing.T) {
	assert.Assert(t, Exists(int32(os.Getpid())))
}

func TestListPIDsIncludesSelf(t *testing.T) {
	pids, err := ListPIDs()
	assert.NilError(t, err)

	self := int32(os.Getpid())
	found := false
	for _, p := range pids {
		if p == self {
			found = true
			break
		}
	}
	assert.Assert(t, found)
}

func TestStripArgs(t *testing.T) {
	assert.Equal(t, stripArgs("nginx -g daemon"), "nginx")
	assert.Equal(t, stripArgs("sshd"), "sshd")
}

func TestNumCPUPositive(t *testing.T) {
	n, err := NumCPU()
	assert.NilError(t, err)
	assert.Assert(t, n >= 1)
}
