package main

import (
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"golang.org/x/sys/unix"

	"github.com/mcontainer/libjail/specs"
)

var oomCommand = cli.Command{
	Name:      "oom",
	Usage:     "log OOM kills in a container until interrupted",
	ArgsUsage: "<name>",
	Action: func(context *cli.Context) error {
		container, err := getContainer(context)
		if err != nil {
			return err
		}
		events := make(chan string, 16)
		id, err := container.RegisterNotification(
			&specs.EventSpec{Oom: &specs.OomEvent{}},
			func(name string, spec *specs.EventSpec) {
				events <- name
			})
		if err != nil {
			return err
		}
		defer container.UnregisterNotification(id)

		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, unix.SIGINT, unix.SIGTERM)
		for {
			select {
			case name := <-events:
				logrus.WithField("container", name).Warn("OOM kill")
			case <-interrupt:
				return nil
			}
		}
	},
}
