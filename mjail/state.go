package main

import (
	"fmt"

	"github.com/urfave/cli"

	"github.com/mcontainer/libjail"
	"github.com/mcontainer/libjail/tasks"
)

var listCommand = cli.Command{
	Name:      "list",
	Usage:     "list subcontainers of a container",
	ArgsUsage: "<name>",
	Flags: []cli.Flag{
		cli.BoolFlag{Name: "recursive,r", Usage: "include subcontainers of subcontainers"},
	},
	Action: func(context *cli.Context) error {
		container, err := getContainer(context)
		if err != nil {
			return err
		}
		names, err := container.ListSubcontainers(listPolicy(context))
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

var psCommand = cli.Command{
	Name:      "ps",
	Usage:     "list the pids in a container",
	ArgsUsage: "<name>",
	Flags: []cli.Flag{
		cli.BoolFlag{Name: "recursive,r", Usage: "include subcontainers"},
		cli.BoolFlag{Name: "threads,t", Usage: "list thread ids instead of pids"},
	},
	Action: func(context *cli.Context) error {
		container, err := getContainer(context)
		if err != nil {
			return err
		}
		list := container.ListProcesses
		if context.Bool("threads") {
			list = container.ListThreads
		}
		ids, err := list(listPolicy(context))
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

var statsCommand = cli.Command{
	Name:      "stats",
	Usage:     "display statistics for a container",
	ArgsUsage: "<name>",
	Flags: []cli.Flag{
		cli.BoolFlag{Name: "full", Usage: "read the exhaustive statistics"},
	},
	Action: func(context *cli.Context) error {
		container, err := getContainer(context)
		if err != nil {
			return err
		}
		kind := libjail.StatsSummary
		if context.Bool("full") {
			kind = libjail.StatsFull
		}
		stats, err := container.Stats(kind)
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}

var configCommand = cli.Command{
	Name:      "config",
	Usage:     "display a container's spec reconstructed from live state",
	ArgsUsage: "<name>",
	Action: func(context *cli.Context) error {
		container, err := getContainer(context)
		if err != nil {
			return err
		}
		spec, err := container.Spec()
		if err != nil {
			return err
		}
		return printJSON(spec)
	},
}

func listPolicy(context *cli.Context) tasks.ListPolicy {
	if context.Bool("recursive") {
		return tasks.ListRecursive
	}
	return tasks.ListSelf
}
