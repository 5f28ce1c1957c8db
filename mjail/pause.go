package main

import "github.com/urfave/cli"

var pauseCommand = cli.Command{
	Name:      "pause",
	Usage:     "freeze every process in a container",
	ArgsUsage: "<name>",
	Action: func(context *cli.Context) error {
		container, err := getContainer(context)
		if err != nil {
			return err
		}
		return container.Pause()
	},
}

var unpauseCommand = cli.Command{
	Name:      "unpause",
	Usage:     "thaw a paused container",
	ArgsUsage: "<name>",
	Action: func(context *cli.Context) error {
		container, err := getContainer(context)
		if err != nil {
			return err
		}
		return container.Resume()
	},
}

var killallCommand = cli.Command{
	Name:      "killall",
	Usage:     "kill every process in a container",
	ArgsUsage: "<name>",
	Action: func(context *cli.Context) error {
		container, err := getContainer(context)
		if err != nil {
			return err
		}
		return container.KillAll()
	},
}
