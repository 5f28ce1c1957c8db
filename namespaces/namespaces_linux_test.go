package namespaces

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/mcontainer/libjail/specs"
	"github.com/mcontainer/libjail/status"
)

func TestHandleRoundTrip(t *testing.T) {
	handle := encodeHandle(42, "4:4026532197")

	pid, nsid, err := decodeHandle(handle)
	require.NoError(t, err)
	assert.Equal(t, 42, pid)
	assert.Equal(t, "4:4026532197", nsid)
}

func TestDecodeHandleMalformed(t *testing.T) {
	for _, handle := range []string{"", "pid=42", "pid=x;pidns=1:2", "pid=-3;pidns=1:2", "foo=1;bar=2"} {
		_, _, err := decodeHandle(handle)
		assert.True(t, status.IsCode(err, codes.InvalidArgument), "handle %q", handle)
	}
}

func TestCloneFlagsFollowPresence(t *testing.T) {
	spec := &specs.NamespaceSpec{
		Pid: &specs.PidNamespaceSpec{},
		Ipc: &specs.IpcNamespaceSpec{},
		Mnt: &specs.MntNamespaceSpec{},
	}

	flags := cloneFlags(spec)
	assert.NotZero(t, flags&syscall.CLONE_NEWPID)
	assert.NotZero(t, flags&syscall.CLONE_NEWIPC)
	assert.NotZero(t, flags&syscall.CLONE_NEWNS)
	assert.Zero(t, flags&syscall.CLONE_NEWNET)
	assert.Zero(t, flags&syscall.CLONE_NEWUSER)
}

func TestActiveTypesJoinOrder(t *testing.T) {
	spec := &specs.NamespaceSpec{
		Pid:  &specs.PidNamespaceSpec{},
		User: &specs.UserNamespaceSpec{},
		Net:  &specs.NetNamespaceSpec{},
	}

	// user must come first so later joins run with mapped credentials
	assert.Equal(t, []Type{TypeUser, TypeNet, TypePid}, activeTypes(spec))
}

func TestCreateRejectsEmptySpec(t *testing.T) {
	f := New(nil, nil)

	_, err := f.Create(nil, nil)
	assert.True(t, status.IsCode(err, codes.InvalidArgument))

	_, err = f.Create(&specs.NamespaceSpec{}, nil)
	assert.True(t, status.IsCode(err, codes.InvalidArgument))
}

func TestCreateRejectsFsWithoutMnt(t *testing.T) {
	f := New(nil, nil)

	_, err := f.Create(&specs.NamespaceSpec{
		Pid: &specs.PidNamespaceSpec{},
		Fs:  &specs.FsNamespaceSpec{Rootfs: "/tmp/root"},
	}, nil)
	assert.True(t, status.IsCode(err, codes.InvalidArgument))
}

func TestGetRejectsBadPid(t *testing.T) {
	f := New(nil, nil)

	_, err := f.Get(0)
	assert.True(t, status.IsCode(err, codes.InvalidArgument))

	// pid 1 exists but arbitrary huge pids will not
	_, err = f.Get(1 << 22)
	assert.True(t, status.IsCode(err, codes.NotFound))
}

// requirePid1Access skips when the test cannot inspect pid 1's namespaces,
// which needs root or CAP_SYS_PTRACE.
func requirePid1Access(t *testing.T) {
	t.Helper()
	if _, err := namespaceID(1, TypePid); err != nil {
		t.Skipf("cannot inspect pid 1 namespaces: %v", err)
	}
}

func TestGetFromHandleStalePid(t *testing.T) {
	requirePid1Access(t)
	f := New(nil, nil)

	// pid 1 is always a jail init (the root one), but a fabricated
	// namespace id must not match it
	_, err := f.GetFromHandle(encodeHandle(1, "9:99999"))
	assert.True(t, status.IsCode(err, codes.NotFound))
}

func TestControllerExecEmptyCommand(t *testing.T) {
	c := &linuxController{pid: 1, pidNsId: "x"}
	assert.True(t, status.IsCode(c.Exec(nil), codes.InvalidArgument))
}

func TestDestroyedControllerIsInvalid(t *testing.T) {
	c := &linuxController{pid: 1, pidNsId: "x", destroyed: true}
	assert.False(t, c.IsValid())
}

func TestUpdateFixedNamespacesUnimplemented(t *testing.T) {
	requirePid1Access(t)
	f := New(nil, nil)
	ctrl, err := f.Get(1)
	require.NoError(t, err)

	err = ctrl.Update(&specs.NamespaceSpec{Pid: &specs.PidNamespaceSpec{}})
	assert.True(t, status.IsCode(err, codes.Unimplemented))
}
