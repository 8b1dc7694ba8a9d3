package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/chatsync/internal/artifact"
	"github.com/chatsync/internal/chatapi"
	"github.com/chatsync/internal/completion"
	"github.com/chatsync/internal/config"
	"github.com/chatsync/internal/logging"
)

// DefaultMessage is sent when run gets no MESSAGE argument.
const DefaultMessage = "Health check: say pong."

// RunCommand returns the run command
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Send a message and drive the assistant turn to completion",
		ArgsUsage: "[MESSAGE]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "prefill-only",
				Usage: "Insert the assistant placeholder, then revert it without generating",
			},
			&cli.BoolFlag{
				Name:  "no-probe",
				Usage: "Skip the follow-up message that checks the chat is still usable",
			},
			&cli.BoolFlag{
				Name:  "no-save",
				Usage: "Do not write the turn result file",
			},
			&cli.IntFlag{
				Name:    "attempts",
				Aliases: []string{"n"},
				Usage:   "Override the number of content polls",
			},
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Usage:   "Override the delay between content polls",
			},
			&cli.StringFlag{
				Name:    "model",
				Aliases: []string{"m"},
				Usage:   "Override the model",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Directory for the turn result file",
			},
		},
		Action: runTurn,
	}
}

func runOverrides(c *cli.Context) map[string]interface{} {
	overrides := make(map[string]interface{})
	if c.IsSet("attempts") {
		overrides["poll.attempts"] = c.Int("attempts")
	}
	if c.IsSet("interval") {
		overrides["poll.interval"] = c.Duration("interval").String()
	}
	if c.IsSet("model") {
		overrides["remote.model"] = c.String("model")
	}
	if c.IsSet("output") {
		overrides["output.dir"] = c.String("output")
	}
	if c.Bool("no-probe") {
		overrides["probe.enabled"] = false
	}
	if c.Bool("no-save") {
		overrides["output.save"] = false
	}
	return overrides
}

// prepare loads and validates the configuration and starts run logging.
// The caller closes the returned logger.
func prepare(c *cli.Context, overrides map[string]interface{}) (*config.Config, *logging.RunLogger, error) {
	cfg, err := loadConfig(c, overrides)
	if err != nil {
		return nil, nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	runID := strings.SplitN(uuid.NewString(), "-", 2)[0]
	logger, err := logging.StartRunLogging(runID, logging.Options{
		Dir:     cfg.Logging.Dir,
		Verbose: cfg.Logging.Verbose,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start run logging: %w", err)
	}
	return cfg, logger, nil
}

func newClient(cfg *config.Config, logger *logging.RunLogger) *chatapi.Client {
	session := chatapi.NewSession(cfg.Remote.BaseURL, cfg.Remote.Token, cfg.Remote.Model)
	return chatapi.NewClient(session, chatapi.Options{
		Timeout:   cfg.Remote.Timeout,
		RateLimit: cfg.Remote.RateLimit,
		Logger:    logger,
	})
}

func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func runTurn(c *cli.Context) error {
	message := strings.TrimSpace(c.Args().First())
	if message == "" {
		message = DefaultMessage
	}

	cfg, logger, err := prepare(c, runOverrides(c))
	if err != nil {
		return err
	}
	defer logger.Close()

	client := newClient(cfg, logger)
	orch := completion.NewOrchestrator(client, completion.Config{
		Model:           cfg.Remote.Model,
		Title:           cfg.Completion.Title,
		Attempts:        cfg.Poll.Attempts,
		Interval:        cfg.Poll.Interval,
		Features:        cfg.Completion.Features,
		BackgroundTasks: cfg.Completion.BackgroundTasks,
	}, logger)

	ctx, cancel := interruptContext()
	defer cancel()

	start := time.Now()
	fmt.Printf("Sending %q to %s (model %s)\n", message, cfg.Remote.BaseURL, cfg.Remote.Model)
	res, err := orch.Begin(ctx, message)
	if err != nil {
		return err
	}
	chatURL := client.Session().ChatURL(res.ChatID)
	fmt.Printf("Chat: %s\n", chatURL)

	if c.Bool("prefill-only") {
		res, err = orch.PrefillOnly(ctx, res)
		if err != nil {
			return err
		}
		fmt.Printf("Placeholder inserted and reverted; chat left at %s\n", res.Transcript.Current())
		return nil
	}

	res, runErr := orch.Run(ctx, res)
	printTurn(res, runErr, time.Since(start))

	var (
		verification *completion.Verification
		probe        *completion.ProbeResult
		verifyErr    error
	)
	if runErr == nil {
		verification, err = completion.Verify(ctx, client, res.ChatID, res.AssistantMessageID)
		switch {
		case err != nil:
			verifyErr = fmt.Errorf("verification failed for %s: %w", res.AssistantMessageID, err)
		case !verification.Passed:
			printVerification(verification)
			verifyErr = fmt.Errorf("verification failed for %s", res.AssistantMessageID)
		default:
			printVerification(verification)
		}
		if verifyErr != nil {
			log.Warn().Err(verifyErr).Str("chat_id", res.ChatID).Msg("Verification failed, no turn result saved")
		}

		if verifyErr == nil && cfg.Probe.Enabled {
			p := completion.NewProber(client, cfg.Probe.Message, cfg.Remote.Model).
				Probe(ctx, res.ChatID, res.Transcript, res.AssistantMessageID)
			probe = &p
			if p.OK {
				fmt.Println("✓ Chat accepts a follow-up message")
			} else {
				fmt.Printf("⚠ Follow-up message failed: %v\n", p.Err)
			}
		}
	}

	if cfg.Output.Save && runErr == nil && verifyErr == nil {
		rec := artifact.FromResult(res, runErr, verification, probe, chatURL)
		saved, err := artifact.NewWriter(cfg.Output.Dir).Save(rec)
		if err != nil {
			logger.LogError("save turn result", err)
			fmt.Printf("⚠ Could not save turn result: %v\n", err)
		} else {
			fmt.Printf("Turn result: %s (%s)\n", saved.Path, saved.HumanSize())
		}
	}

	if path := logger.Path(); path != "" {
		fmt.Printf("Run log: %s\n", path)
	}
	if runErr != nil {
		return runErr
	}
	return verifyErr
}

func printTurn(res *completion.Result, runErr error, elapsed time.Duration) {
	states := make([]string, 0, len(res.Transitions))
	for _, s := range res.States() {
		states = append(states, string(s))
	}
	fmt.Printf("States: %s\n", strings.Join(states, " → "))

	if runErr != nil {
		var timeout *completion.TimeoutError
		if errors.As(runErr, &timeout) {
			fmt.Printf("❌ No assistant content after %d polls (%s)\n", timeout.Attempts, elapsed.Round(time.Millisecond))
		}
		return
	}

	fmt.Printf("✓ Assistant replied after %d polls in %s (%s chars)\n",
		res.Attempts, elapsed.Round(time.Millisecond), humanize.Comma(int64(len([]rune(res.Content)))))
	fmt.Println("")
	fmt.Println(res.Content)
	fmt.Println("")
	if res.MarkCompleteErr != nil {
		fmt.Printf("⚠ Completion signal failed: %v\n", res.MarkCompleteErr)
	}
}

func printVerification(v *completion.Verification) {
	if v.Passed {
		fmt.Println("✓ Verification passed: assistant message renders with content")
	} else {
		fmt.Printf("❌ Verification failed (in messages: %v, has content: %v)\n", v.InSequence, v.HasContent)
	}
	for _, w := range v.Warnings {
		fmt.Printf("⚠ Warning: %s\n", w)
	}
}
