package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/mcontainer/libjail"
	"github.com/mcontainer/libjail/specs"
)

// initApi bootstraps the machine from the global flags and returns the
// container API. Called by every command that touches containers; the
// reexec entrypoints skip it.
func initApi(context *cli.Context) (libjail.ContainerApi, error) {
	machineSpec := &specs.MachineSpec{}
	if root := context.GlobalString("cgroup-root"); root != "" {
		machineSpec.CgroupRoot = &root
	}
	if root := context.GlobalString("state-root"); root != "" {
		machineSpec.StateRoot = &root
	}
	if err := libjail.InitMachine(machineSpec); err != nil {
		return nil, err
	}
	return libjail.New()
}

// containerName is the mandatory first positional argument of most
// commands.
func containerName(context *cli.Context) (string, error) {
	name := context.Args().First()
	if name == "" {
		return "", fmt.Errorf("container name is required")
	}
	return name, nil
}

func getContainer(context *cli.Context) (libjail.Container, error) {
	name, err := containerName(context)
	if err != nil {
		return nil, err
	}
	api, err := initApi(context)
	if err != nil {
		return nil, err
	}
	return api.Get(name)
}

// loadSpec reads a ContainerSpec from a JSON file; an empty path means an
// empty spec.
func loadSpec(path string) (*specs.ContainerSpec, error) {
	spec := &specs.ContainerSpec{}
	if path == "" {
		return spec, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(spec); err != nil {
		return nil, fmt.Errorf("parse %s: %v", path, err)
	}
	return spec, nil
}

func printJSON(v interface{}) error {
	raw, err := json.MarshalIndent(v, "", "\t")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}
