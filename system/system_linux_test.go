package system

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/mcontainer/libjail/status"
)

func TestParentPidOfSelf(t *testing.T) {
	parent, err := ParentPid(os.Getpid())
	require.NoError(t, err)
	assert.Equal(t, os.Getppid(), parent)
}

func TestParentPidOfGoneProcess(t *testing.T) {
	// PID_MAX_LIMIT is 2^22, so this pid can never exist.
	_, err := ParentPid(1 << 23)
	assert.True(t, status.IsCode(err, codes.NotFound))
}

func TestProcessExists(t *testing.T) {
	k := Default
	assert.True(t, k.ProcessExists(os.Getpid()))
	assert.False(t, k.ProcessExists(1<<23))
}
