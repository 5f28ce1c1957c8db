package fs

import (
	"github.com/mcontainer/libjail/specs"
)

// CpusetGroup pins a container to a set of CPUs. It lives in its own
// hierarchy but is driven by the cpu handler through CpuSpec.Mask.
type CpusetGroup struct{}

// Create populates cpuset.cpus and cpuset.mems from the parent, which the
// kernel leaves empty on mkdir and refuses to run tasks with.
func (g *CpusetGroup) Create(dir, parent string) error {
	for _, file := range []string{"cpuset.cpus", "cpuset.mems"} {
		inherited, err := readFileString(parent, file)
		if err != nil {
			return err
		}
		if err := writeFile(dir, file, inherited); err != nil {
			return err
		}
	}
	return nil
}

func (g *CpusetGroup) Set(dir string, spec *specs.CpuSpec, replace bool) error {
	if spec.Mask != nil {
		return writeFile(dir, "cpuset.cpus", *spec.Mask)
	}
	return nil
}

func (g *CpusetGroup) Mask(dir string) (string, error) {
	return readFileString(dir, "cpuset.cpus")
}
