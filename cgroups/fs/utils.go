// Package fs reads and writes the per-subsystem cgroup control files. One
// group type per subsystem; callers hand in the absolute directory of the
// container inside that subsystem's hierarchy.
package fs

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"google.golang.org/grpc/codes"

	"github.com/mcontainer/libjail/status"
)

func writeFile(dir, file, data string) error {
	if err := os.WriteFile(filepath.Join(dir, file), []byte(data), 0700); err != nil {
		return status.Errorf(codes.Internal, "write %s: %v", filepath.Join(dir, file), err)
	}
	return nil
}

func writeFileInt(dir, file string, data int64) error {
	return writeFile(dir, file, strconv.FormatInt(data, 10))
}

func readFileUint(dir, file string) (uint64, error) {
	raw, err := os.ReadFile(filepath.Join(dir, file))
	if err != nil {
		return 0, status.Errorf(codes.Internal, "read %s: %v", filepath.Join(dir, file), err)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, status.Errorf(codes.Internal, "parse %s: %v", filepath.Join(dir, file), err)
	}
	return v, nil
}

func readFileString(dir, file string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(dir, file))
	if err != nil {
		return "", status.Errorf(codes.Internal, "read %s: %v", filepath.Join(dir, file), err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// getCgroupParamKeyValue parses one "key value" line of a stat file.
func getCgroupParamKeyValue(t string) (string, uint64, error) {
	parts := strings.Fields(t)
	if len(parts) != 2 {
		return "", 0, status.Errorf(codes.Internal, "malformed cgroup stat line %q", t)
	}
	value, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return "", 0, status.Errorf(codes.Internal, "parse cgroup stat line %q: %v", t, err)
	}
	return parts[0], value, nil
}

func forEachStatLine(dir, file string, fn func(key string, value uint64)) error {
	f, err := os.Open(filepath.Join(dir, file))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return status.Errorf(codes.Internal, "open %s: %v", filepath.Join(dir, file), err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		k, v, err := getCgroupParamKeyValue(sc.Text())
		if err != nil {
			return err
		}
		fn(k, v)
	}
	return nil
}

// ReadPids returns the sorted contents of a pid list file such as
// cgroup.procs or tasks.
func ReadPids(dir, file string) ([]int, error) {
	f, err := os.Open(filepath.Join(dir, file))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, status.Errorf(codes.NotFound, "cgroup %s does not exist", dir)
		}
		return nil, status.Errorf(codes.Internal, "open %s: %v", filepath.Join(dir, file), err)
	}
	defer f.Close()

	var pids []int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		pid, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
		if err != nil {
			return nil, status.Errorf(codes.Internal, "parse pid %q in %s: %v", sc.Text(), dir, err)
		}
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids, nil
}

// EnterPids moves the given ids into the cgroup by writing them one at a
// time into file ("cgroup.procs" for processes, "tasks" for threads).
func EnterPids(dir, file string, pids []int) error {
	for _, pid := range pids {
		if err := writeFileInt(dir, file, int64(pid)); err != nil {
			return status.Annotate(err, "enter pid %d into %s", pid, dir)
		}
	}
	return nil
}

// Create makes the container's directory in one hierarchy.
func Create(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return status.Errorf(codes.Internal, "create cgroup %s: %v", dir, err)
	}
	return nil
}

// Remove deletes the container's directory. The directory must already be
// empty of processes. Idempotent: a missing directory is not an error.
func Remove(dir string) error {
	if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
		return status.Errorf(codes.Internal, "remove cgroup %s: %v", dir, err)
	}
	return nil
}

// Delegate chowns the directory and its entry files so uid/gid can create
// child cgroups and move tasks without privilege.
func Delegate(dir string, uid, gid int) error {
	paths := []string{dir, filepath.Join(dir, "cgroup.procs"), filepath.Join(dir, "tasks")}
	for _, p := range paths {
		if err := os.Chown(p, uid, gid); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return status.Errorf(codes.Internal, "chown %s: %v", p, err)
		}
	}
	return nil
}

// ListChildren returns the sorted names of child cgroup directories.
func ListChildren(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, status.Errorf(codes.NotFound, "cgroup %s does not exist", dir)
		}
		return nil, status.Errorf(codes.Internal, "read %s: %v", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// WalkChildren calls fn for dir and every cgroup directory below it.
func WalkChildren(dir string, fn func(dir string) error) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return status.Errorf(codes.Internal, "walk %s: %v", dir, err)
		}
		if !info.IsDir() {
			return nil
		}
		return fn(path)
	})
}
