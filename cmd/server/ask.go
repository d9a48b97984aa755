package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashureev/qa-demo/internal/answer"
	"github.com/ashureev/qa-demo/internal/config"
	"github.com/ashureev/qa-demo/internal/llm"
	"github.com/ashureev/qa-demo/internal/render"
	"github.com/ashureev/qa-demo/internal/session"
)

// cliSessionID names the single in-process session used by ask.
const cliSessionID = "terminal"

func newAskCommand() *cobra.Command {
	var (
		verbose bool
		width   int
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question in the terminal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), cmd.OutOrStdout(), strings.Join(args, " "), verbose, width)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")
	cmd.Flags().IntVarP(&width, "width", "w", 80, "Wrap width for the rendered answer")
	return cmd
}

// newAskLogger logs warnings and errors as text, or everything with verbose.
func newAskLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func runAsk(ctx context.Context, out io.Writer, question string, verbose bool, width int) error {
	logger := newAskLogger(os.Stderr, verbose)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		return err
	}

	gen, err := llm.NewGenerator(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize generator: %w", err)
	}

	svc := answer.NewService(gen,
		answer.NewCache(cfg.Cache.TTL, cfg.Cache.MaxEntries, nil),
		answer.WithLogger(logger))
	sess := session.New(session.Key{UserID: "cli", SessionID: cliSessionID}, svc)

	entry, err := sess.Submit(ctx, question)
	if errors.Is(err, session.ErrEmptyQuestion) {
		fmt.Fprintln(out, yellow(session.WarningEmptyQuestion))
		return err
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s %s\n", bold("Question 1:"), entry.Question)
	fmt.Fprintln(out, bold("Response:"))
	fmt.Fprint(out, render.Terminal(entry.Response, width))
	return nil
}
