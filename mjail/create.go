package main

import (
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

var createCommand = cli.Command{
	Name:      "create",
	Usage:     "create a new container",
	ArgsUsage: "<name>",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "config,c", Value: "", Usage: "path to the container spec file"},
	},
	Action: func(context *cli.Context) error {
		name, err := containerName(context)
		if err != nil {
			return err
		}
		spec, err := loadSpec(context.String("config"))
		if err != nil {
			return err
		}
		api, err := initApi(context)
		if err != nil {
			return err
		}
		if _, err := api.Create(name, spec); err != nil {
			return err
		}
		logrus.WithField("container", name).Info("created")
		return nil
	},
}

var destroyCommand = cli.Command{
	Name:      "destroy",
	Usage:     "destroy a container and release its resources",
	ArgsUsage: "<name>",
	Action: func(context *cli.Context) error {
		name, err := containerName(context)
		if err != nil {
			return err
		}
		api, err := initApi(context)
		if err != nil {
			return err
		}
		container, err := api.Get(name)
		if err != nil {
			return err
		}
		return api.Destroy(container)
	},
}
