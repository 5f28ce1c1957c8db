package main

import (
	"fmt"
	"strconv"

	"github.com/urfave/cli"

	"github.com/mcontainer/libjail/specs"
)

var runCommand = cli.Command{
	Name:      "run",
	Usage:     "spawn a command inside a container and print its pid",
	ArgsUsage: "<name> <command>...",
	Flags: []cli.Flag{
		cli.BoolFlag{Name: "detach,d", Usage: "detach from the terminal and run in its own session"},
	},
	Action: func(context *cli.Context) error {
		container, err := getContainer(context)
		if err != nil {
			return err
		}
		command := context.Args().Tail()
		policy := specs.FdInherit
		if context.Bool("detach") {
			policy = specs.FdDetached
		}
		pid, err := container.Run(command, &specs.RunSpec{FdPolicy: policy})
		if err != nil {
			return err
		}
		fmt.Println(pid)
		return nil
	},
}

var execCommand = cli.Command{
	Name:      "exec",
	Usage:     "replace this process with a command inside a container",
	ArgsUsage: "<name> <command>...",
	Action: func(context *cli.Context) error {
		container, err := getContainer(context)
		if err != nil {
			return err
		}
		// does not return on success
		return container.Exec(context.Args().Tail())
	},
}

var enterCommand = cli.Command{
	Name:      "enter",
	Usage:     "move running threads into a container",
	ArgsUsage: "<name> <tid>...",
	Action: func(context *cli.Context) error {
		container, err := getContainer(context)
		if err != nil {
			return err
		}
		var tids []int
		for _, arg := range context.Args().Tail() {
			tid, err := strconv.Atoi(arg)
			if err != nil {
				return fmt.Errorf("bad tid %q", arg)
			}
			tids = append(tids, tid)
		}
		return container.Enter(tids)
	},
}

var detectCommand = cli.Command{
	Name:      "detect",
	Usage:     "print the container holding a pid",
	ArgsUsage: "[pid]",
	Action: func(context *cli.Context) error {
		pid := 0
		if arg := context.Args().First(); arg != "" {
			parsed, err := strconv.Atoi(arg)
			if err != nil {
				return fmt.Errorf("bad pid %q", arg)
			}
			pid = parsed
		}
		api, err := initApi(context)
		if err != nil {
			return err
		}
		name, err := api.Detect(pid)
		if err != nil {
			return err
		}
		fmt.Println(name)
		return nil
	},
}
