package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/chatsync/internal/completion"
)

// VerifyCommand returns the verify command
func VerifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Check that an assistant message renders with content",
		ArgsUsage: "CHAT_ID ASSISTANT_ID",
		Action:    runVerify,
	}
}

func runVerify(c *cli.Context) error {
	if c.NArg() < 2 {
		return fmt.Errorf("missing required arguments: CHAT_ID ASSISTANT_ID")
	}
	chatID := c.Args().Get(0)
	assistantID := c.Args().Get(1)

	cfg, logger, err := prepare(c, nil)
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, cancel := interruptContext()
	defer cancel()

	client := newClient(cfg, logger)
	v, err := completion.Verify(ctx, client, chatID, assistantID)
	if err != nil {
		return err
	}
	fmt.Printf("Chat: %s\n", client.Session().ChatURL(chatID))
	printVerification(v)
	if !v.Passed {
		return fmt.Errorf("assistant message %s does not render", assistantID)
	}
	return nil
}
