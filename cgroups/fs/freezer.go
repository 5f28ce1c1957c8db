package fs

import (
	"time"

	"google.golang.org/grpc/codes"

	"github.com/mcontainer/libjail/cgroups"
	"github.com/mcontainer/libjail/status"
)

const (
	freezePollInterval = 10 * time.Millisecond
	freezePollBudget   = 1000
)

type FreezerGroup struct{}

// Freeze writes the desired state and waits until the kernel reports it.
// Freezing can take real wall-clock time while tasks reach a freezable
// point, so this may block for seconds.
func (g *FreezerGroup) Freeze(dir string, state cgroups.FreezerState) error {
	if err := writeFile(dir, "freezer.state", string(state)); err != nil {
		return err
	}
	for i := 0; i < freezePollBudget; i++ {
		current, err := readFileString(dir, "freezer.state")
		if err != nil {
			return err
		}
		if current == string(state) {
			return nil
		}
		time.Sleep(freezePollInterval)
	}
	return status.Errorf(codes.Internal, "cgroup %s did not reach freezer state %s", dir, state)
}

func (g *FreezerGroup) State(dir string) (cgroups.FreezerState, error) {
	raw, err := readFileString(dir, "freezer.state")
	if err != nil {
		return "", err
	}
	return cgroups.FreezerState(raw), nil
}
