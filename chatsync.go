package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/chatsync/cmd"
)

const (
	version = "0.1.0"
)

func main() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:  "version",
		Usage: "print the version",
	}

	app := &cli.App{
		Name:    "chatsync",
		Usage:   "Drive and repair assistant turns on an Open WebUI backend",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE` (default ./chatsync.toml or ~/.chatsync.toml)",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Read BASE, TOKEN and MODEL from `FILE` (default ./.env)",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Log request and response details",
			},
		},
		Commands: []*cli.Command{
			cmd.RunCommand(),
			cmd.VerifyCommand(),
			cmd.KnowledgeCommand(),
			cmd.ConfigCommand(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
