package main

import (
	"fmt"
	"runtime"
	"strconv"

	"github.com/urfave/cli"

	"github.com/mcontainer/libjail/namespaces"
	"github.com/mcontainer/libjail/system"
)

var jailInitCommand = cli.Command{
	Name:   "jail-init",
	Usage:  "**internal reexec entrypoint that becomes a jail's init, never invoke directly**",
	Hidden: true,
	Action: func(context *cli.Context) error {
		runtime.GOMAXPROCS(1)
		runtime.LockOSThread()
		return namespaces.Initialize()
	},
}

var jailEnterCommand = cli.Command{
	Name:            "jail-enter",
	Usage:           "**internal reexec entrypoint that joins a jail's namespaces, never invoke directly**",
	Hidden:          true,
	SkipFlagParsing: true,
	Action: func(context *cli.Context) error {
		args := context.Args()
		if len(args) < 3 || args[1] != "--" {
			return fmt.Errorf("usage: jail-enter <pid> -- <command>...")
		}
		pid, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("bad pid %q", args[0])
		}
		// execs in place on success
		return namespaces.Enter(pid, args[2:], system.Default)
	},
}
