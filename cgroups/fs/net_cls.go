package fs

import (
	"github.com/mcontainer/libjail/cgroups"
	"github.com/mcontainer/libjail/specs"
)

type NetClsGroup struct{}

func (g *NetClsGroup) Set(dir string, spec *specs.NetworkSpec, replace bool) error {
	if spec.ClassId != nil {
		return writeFileInt(dir, "net_cls.classid", *spec.ClassId)
	}
	if replace {
		return writeFileInt(dir, "net_cls.classid", 0)
	}
	return nil
}

func (g *NetClsGroup) Spec(dir string) (*specs.NetworkSpec, error) {
	classid, err := readFileUint(dir, "net_cls.classid")
	if err != nil {
		return nil, err
	}
	c := int64(classid)
	return &specs.NetworkSpec{ClassId: &c}, nil
}

func (g *NetClsGroup) GetStats(dir string, stats *cgroups.NetworkStats) error {
	classid, err := readFileUint(dir, "net_cls.classid")
	if err != nil {
		return err
	}
	stats.ClassId = classid
	return nil
}
