package libjail

import (
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"

	"github.com/mcontainer/libjail/cgroups"
	"github.com/mcontainer/libjail/namespaces"
	"github.com/mcontainer/libjail/specs"
	"github.com/mcontainer/libjail/status"
	"github.com/mcontainer/libjail/tasks"
)

const defaultStateRoot = "/var/lib/libjail"

// machine holds the per-process view of the host: where each resource
// hierarchy is mounted and the factories everything else is built from.
type machine struct {
	// hierarchy roots keyed by cgroup subsystem name
	roots        map[string]string
	trackingRoot string
	stateRoot    string

	tasksFactory tasks.Factory
	nsFactory    namespaces.Factory
	factories    map[ResourceType]ResourceHandlerFactory
}

var (
	machineMu     sync.Mutex
	activeMachine *machine
)

// machineSubsystems are the cgroup subsystems the runtime uses. cpu must
// be present since it doubles as the task-tracking hierarchy; the rest are
// optional and the matching resource is simply unavailable when unmounted.
var machineSubsystems = []string{"cpu", "cpuset", "cpuacct", "memory", "blkio", "net_cls", "devices", "freezer"}

// InitMachine discovers the host's cgroup layout and wires up the runtime.
// Must be called once per process before New; later calls are no-ops.
//
// Errors:
// FailedPrecondition - the cpu or freezer hierarchy is not mounted
// Internal - mountinfo could not be read
func InitMachine(spec *specs.MachineSpec) error {
	machineMu.Lock()
	defer machineMu.Unlock()
	if activeMachine != nil {
		return nil
	}
	if spec == nil {
		spec = &specs.MachineSpec{}
	}

	roots := make(map[string]string)
	for _, subsys := range machineSubsystems {
		if spec.CgroupRoot != nil {
			roots[subsys] = filepath.Join(*spec.CgroupRoot, subsys)
			continue
		}
		mount, err := cgroups.FindMountpoint(subsys)
		if err != nil {
			if status.IsCode(err, codes.NotFound) {
				continue
			}
			return err
		}
		roots[subsys] = mount
	}
	for _, required := range []string{"cpu", "freezer"} {
		if roots[required] == "" {
			return status.Errorf(codes.FailedPrecondition, "cgroup hierarchy %q is not mounted", required)
		}
	}

	stateRoot := defaultStateRoot
	if spec.StateRoot != nil {
		stateRoot = *spec.StateRoot
	}

	tasksFactory, err := tasks.NewFactory(roots["cpu"])
	if err != nil {
		return err
	}
	nsFactory := namespaces.New(nil, nil)

	m := &machine{
		roots:        roots,
		trackingRoot: roots["cpu"],
		stateRoot:    stateRoot,
		tasksFactory: tasksFactory,
		nsFactory:    nsFactory,
		factories:    make(map[ResourceType]ResourceHandlerFactory),
	}

	m.factories[ResourceVirtualHost] = newVirtualHostFactory(nsFactory, tasksFactory)
	m.factories[ResourceFilesystem] = &filesystemHandlerFactory{stateRoot: stateRoot}
	cgroupFactories := map[ResourceType]string{
		ResourceCpu:        "cpu",
		ResourceMemory:     "memory",
		ResourceBlockIo:    "blkio",
		ResourceNetwork:    "net_cls",
		ResourceMonitoring: "cpuacct",
		ResourceDevice:     "devices",
	}
	for rtype, subsys := range cgroupFactories {
		root, ok := roots[subsys]
		if !ok {
			logrus.WithField("subsystem", subsys).Warn("hierarchy not mounted, resource unavailable")
			continue
		}
		f := &cgroupHandlerFactory{rtype: rtype, root: root}
		if rtype == ResourceCpu {
			f.cpusetRoot = roots["cpuset"]
		}
		m.factories[rtype] = f
	}

	activeMachine = m
	logrus.WithField("tracking", m.trackingRoot).Info("machine initialized")
	return nil
}

// New returns the ContainerApi for the initialized machine.
//
// Errors:
// FailedPrecondition - InitMachine has not succeeded in this process
func New() (ContainerApi, error) {
	machineMu.Lock()
	defer machineMu.Unlock()
	if activeMachine == nil {
		return nil, status.Errorf(codes.FailedPrecondition, "machine is not initialized")
	}
	return newJailApi(activeMachine), nil
}
