package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/chatsync/internal/chatapi"
	"github.com/chatsync/internal/knowledge"
)

// KnowledgeCommand returns the knowledge command
func KnowledgeCommand() *cli.Command {
	return &cli.Command{
		Name:  "knowledge",
		Usage: "Manage knowledge collections",
		Subcommands: []*cli.Command{
			{
				Name:      "attach",
				Usage:     "Create a collection and attach local files to it",
				ArgsUsage: "FILE...",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "name",
						Usage:    "Collection name",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "description",
						Usage: "Collection description",
					},
					&cli.IntFlag{
						Name:  "retries",
						Usage: "Extra upload attempts on transient errors",
						Value: 2,
					},
				},
				Action: runKnowledgeAttach,
			},
		},
	}
}

func runKnowledgeAttach(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("missing required argument: FILE")
	}

	cfg, logger, err := prepare(c, nil)
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, cancel := interruptContext()
	defer cancel()

	attacher := knowledge.NewAttacher(newClient(cfg, logger), knowledge.Options{
		UploadRetries: c.Int("retries"),
		PollAttempts:  cfg.Poll.Attempts,
		PollInterval:  cfg.Poll.Interval,
	}, logger)

	out, err := attacher.Attach(ctx, chatapi.KnowledgeRequest{
		Name:        c.String("name"),
		Description: c.String("description"),
	}, c.Args().Slice())
	if out != nil {
		fmt.Printf("Collection: %s\n", out.KnowledgeID)
		for _, f := range out.Files {
			if f.Attached {
				fmt.Printf("✓ %s (%s) → %s\n", f.Path, humanize.Bytes(uint64(f.Size)), f.FileID)
			} else {
				fmt.Printf("❌ %s: %s\n", f.Path, f.Error)
			}
		}
		fmt.Printf("%d of %d files attached\n", out.Attached(), len(out.Files))
	}
	return err
}
