package namespaces

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"syscall"

	"google.golang.org/grpc/codes"

	"github.com/mcontainer/libjail/status"
)

// syncPipe synchronizes a jail init with its creating parent over a
// socketpair. The parent writes the setup config and then reads until EOF;
// the child reports setup failures back, and a clean close (the fd is
// CLOEXEC, so exec closes it) signals success.
type syncPipe struct {
	parent, child *os.File
}

func newSyncPipe() (*syncPipe, error) {
	fds, err := syscall.Socketpair(syscall.AF_LOCAL, syscall.SOCK_STREAM|syscall.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "socketpair: %v", err)
	}
	return &syncPipe{
		parent: os.NewFile(uintptr(fds[1]), "parent"),
		child:  os.NewFile(uintptr(fds[0]), "child"),
	}, nil
}

func (s *syncPipe) SendConfig(v interface{}) error {
	if err := json.NewEncoder(s.parent).Encode(v); err != nil {
		return status.Errorf(codes.Internal, "send init config: %v", err)
	}
	return nil
}

// WaitForChild blocks until the child either reports an error or execs.
func (s *syncPipe) WaitForChild() error {
	data, err := io.ReadAll(s.parent)
	if err != nil {
		return status.Errorf(codes.Internal, "read from jail init: %v", err)
	}
	if len(data) > 0 {
		return status.Errorf(codes.Internal, "jail init setup: %s", data)
	}
	return nil
}

func (s *syncPipe) ReadConfig(v interface{}) error {
	if err := json.NewDecoder(s.child).Decode(v); err != nil {
		return status.Errorf(codes.Internal, "read init config: %v", err)
	}
	return nil
}

func (s *syncPipe) ReportChildError(err error) {
	fmt.Fprint(s.child, err.Error())
	s.child.Close()
}

func (s *syncPipe) CloseChild() {
	if s.child != nil {
		s.child.Close()
		s.child = nil
	}
}

func (s *syncPipe) Close() {
	if s.parent != nil {
		s.parent.Close()
	}
	s.CloseChild()
}
