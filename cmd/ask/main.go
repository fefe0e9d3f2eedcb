package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/MegaGrindStone/footballpedia/internal/chat"
	"github.com/spf13/cobra"
)

var (
	askEndpoint    string
	askKey         string
	askInteractive bool
	askVerbose     bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask FootballPedia a football question and stream the answer",
	Long: `Ask FootballPedia a question and print the answer as it streams in.

Examples:
  ask "Who won the 2018 World Cup?"
  ask --interactive "Tell me about Lionel Messi"
  ask -i

In interactive mode every line is a follow-up question. Type /clear to start
over and /exit (or Ctrl-D) to quit.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if askInteractive {
			return nil
		}
		return cobra.MinimumNArgs(1)(cmd, args)
	},
	SilenceUsage: true,
	RunE:         runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askEndpoint, "endpoint", "e", envOr("FOOTBALLPEDIA_ENDPOINT",
		"http://localhost:8080/functions/v1/football-chat"), "Inference endpoint URL")
	askCmd.Flags().StringVarP(&askKey, "key", "k", os.Getenv("FOOTBALLPEDIA_KEY"), "Inference endpoint API key")
	askCmd.Flags().BoolVarP(&askInteractive, "interactive", "i", false, "Keep asking follow-up questions")
	askCmd.Flags().BoolVarP(&askVerbose, "verbose", "v", false, "Log stream diagnostics")
}

func main() {
	if err := askCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	level := slog.LevelWarn
	if askVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	view := newTerminalView(cmd.OutOrStdout(), cmd.ErrOrStderr())
	client := chat.NewClient(chat.Config{
		Endpoint: askEndpoint,
		APIKey:   askKey,
	}, nil, view, logger)

	if question := strings.Join(args, " "); question != "" {
		ask(ctx, client, view, question)
	}
	if !askInteractive {
		return nil
	}

	return interact(ctx, client, view, cmd.InOrStdin(), cmd.OutOrStdout())
}

func ask(ctx context.Context, client *chat.Client, view *terminalView, question string) {
	client.SendMessage(ctx, question)
	view.endReply()
}

func interact(ctx context.Context, client *chat.Client, view *terminalView, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		switch line := strings.TrimSpace(scanner.Text()); line {
		case "":
		case "/exit", "/quit":
			return nil
		case "/clear":
			client.ClearMessages()
			fmt.Fprintln(out, "Conversation cleared.")
		default:
			ask(ctx, client, view, line)
		}
	}
}
