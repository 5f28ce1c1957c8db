package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "mjail"
	app.Usage = "machine-level container runtime"
	app.Version = "1"
	app.Flags = []cli.Flag{
		cli.BoolFlag{Name: "debug", Usage: "enable debug output in the logs"},
		cli.StringFlag{Name: "log-file", Value: "", Usage: "set the log file path where logs are written"},
		cli.StringFlag{Name: "cgroup-root", Value: "", Usage: "override the mount root of the cgroup hierarchies"},
		cli.StringFlag{Name: "state-root", Value: "", Usage: "root directory for container bookkeeping"},
	}
	app.Commands = []cli.Command{
		createCommand,
		destroyCommand,
		runCommand,
		execCommand,
		enterCommand,
		listCommand,
		psCommand,
		statsCommand,
		configCommand,
		pauseCommand,
		unpauseCommand,
		killallCommand,
		detectCommand,
		oomCommand,
		jailInitCommand,
		jailEnterCommand,
	}
	app.Before = func(context *cli.Context) error {
		if context.GlobalBool("debug") {
			logrus.SetLevel(logrus.DebugLevel)
		}
		if path := context.GlobalString("log-file"); path != "" {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return err
			}
			logrus.SetOutput(f)
		}
		return nil
	}
	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}
