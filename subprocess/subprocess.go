// Package subprocess is the spawn-and-control primitive for running
// commands on behalf of a container.
package subprocess

import (
	"os"
	"os/exec"
	"syscall"

	"google.golang.org/grpc/codes"

	"github.com/mcontainer/libjail/specs"
	"github.com/mcontainer/libjail/status"
)

// SubProcess is one spawned child. Start blocks until the child exists,
// not until it exits; reaping is the caller's concern.
type SubProcess interface {
	// Start spawns the child.
	//
	// Errors:
	// FailedPrecondition - the child failed to start
	Start() error

	// Pid is valid after a successful Start.
	Pid() int

	// Kill delivers SIGKILL to the child.
	Kill() error

	// Wait reaps the child and returns its exit code.
	Wait() (int, error)
}

// Factory builds SubProcesses with a given fd-inheritance policy.
type Factory interface {
	// New prepares a child for argv. A nil spec means FdInherit.
	//
	// Errors:
	// InvalidArgument - empty argv or unknown fd policy
	New(argv []string, spec *specs.RunSpec) (SubProcess, error)
}

type execFactory struct{}

// NewFactory returns the exec.Cmd-backed factory.
func NewFactory() Factory {
	return &execFactory{}
}

func (f *execFactory) New(argv []string, spec *specs.RunSpec) (SubProcess, error) {
	if len(argv) == 0 {
		return nil, status.Errorf(codes.InvalidArgument, "empty command")
	}
	policy := specs.FdInherit
	if spec != nil {
		policy = spec.FdPolicy
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	switch policy {
	case specs.FdInherit:
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	case specs.FdDetached:
		// new session, stdio on /dev/null, nothing else inherited
		cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown fd policy %d", policy)
	}
	return &execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Start() error {
	if err := p.cmd.Start(); err != nil {
		return status.Errorf(codes.FailedPrecondition, "start %q: %v", p.cmd.Path, err)
	}
	return nil
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Kill() error {
	if err := p.cmd.Process.Kill(); err != nil {
		return status.Errorf(codes.Internal, "kill %d: %v", p.Pid(), err)
	}
	return nil
}

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	if exit, ok := err.(*exec.ExitError); ok {
		return exit.ExitCode(), nil
	}
	return -1, status.Errorf(codes.Internal, "wait for %d: %v", p.Pid(), err)
}
