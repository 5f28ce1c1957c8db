package fs

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"google.golang.org/grpc/codes"

	"github.com/mcontainer/libjail/cgroups"
	"github.com/mcontainer/libjail/specs"
	"github.com/mcontainer/libjail/status"
)

const defaultBlkioWeight = 500

type BlkioGroup struct{}

func (g *BlkioGroup) Set(dir string, spec *specs.BlockIoSpec, replace bool) error {
	if spec.Weight != nil {
		if *spec.Weight < 10 || *spec.Weight > 1000 {
			return status.Errorf(codes.InvalidArgument, "blkio weight %d outside [10, 1000]", *spec.Weight)
		}
		return writeFileInt(dir, "blkio.weight", *spec.Weight)
	}
	if replace {
		return writeFileInt(dir, "blkio.weight", defaultBlkioWeight)
	}
	return nil
}

func (g *BlkioGroup) Spec(dir string) (*specs.BlockIoSpec, error) {
	weight, err := readFileUint(dir, "blkio.weight")
	if err != nil {
		return nil, err
	}
	w := int64(weight)
	return &specs.BlockIoSpec{Weight: &w}, nil
}

// GetStats sums the Total lines of blkio.throttle.io_service_bytes and
// blkio.throttle.io_serviced.
func (g *BlkioGroup) GetStats(dir string, stats *cgroups.BlkioStats) error {
	var err error
	if stats.ServicedBytes, err = readBlkioTotal(dir, "blkio.throttle.io_service_bytes"); err != nil {
		return err
	}
	if stats.ServicedOps, err = readBlkioTotal(dir, "blkio.throttle.io_serviced"); err != nil {
		return err
	}
	return nil
}

func readBlkioTotal(dir, file string) (uint64, error) {
	f, err := os.Open(filepath.Join(dir, file))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, status.Errorf(codes.Internal, "open %s: %v", filepath.Join(dir, file), err)
	}
	defer f.Close()

	var total uint64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		// "Total <n>" closes the per-device list
		if len(fields) == 2 && fields[0] == "Total" {
			v, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				return 0, status.Errorf(codes.Internal, "parse %s total %q: %v", file, fields[1], err)
			}
			total = v
		}
	}
	return total, nil
}
