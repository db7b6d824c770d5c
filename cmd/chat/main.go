package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zjregee/threadchat/internal/app"
	"github.com/zjregee/threadchat/internal/client"
	"github.com/zjregee/threadchat/internal/models"
)

const defaultServerURL = "http://localhost:8080"

var (
	serverURL string
	verbose   bool
	threadID  string
)

var rootCmd = &cobra.Command{
	Use:           "threadchat",
	Short:         "Terminal client for the thread chat API",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRepl,
}

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Start an interactive chat session",
	Args:  cobra.NoArgs,
	RunE:  runRepl,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List threads, most recently updated first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a := newApp()
		if err := a.Startup(cmd.Context()); err != nil {
			return err
		}
		printSummaries(a.Session().Snapshot())
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <thread-id>",
	Short: "Print every turn of a thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp()
		if err := a.SwitchThread(cmd.Context(), args[0]); err != nil {
			return err
		}
		printTurns(a.Session().Snapshot().Turns)
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send a message to a new thread, or to --thread",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a := newApp()

		if threadID != "" {
			if err := a.SwitchThread(ctx, threadID); err != nil {
				return err
			}
		}

		err := a.Send(ctx, strings.Join(args, " "))
		state := a.Session().Snapshot()
		if err != nil && !errors.Is(err, models.ErrReplyFailed) {
			return err
		}

		printTurns(state.Turns)
		infoColor.Printf("thread %s\n", state.ActiveID)
		return err
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <thread-id>",
	Short: "Delete a thread and all of its turns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newApp().DeleteThread(cmd.Context(), args[0]); err != nil {
			return err
		}
		infoColor.Printf("deleted %s\n", args[0])
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <thread-id>",
	Short: "Generate the missing reply to the last message of a thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a := newApp()
		if err := a.SwitchThread(ctx, args[0]); err != nil {
			return err
		}
		if err := a.RetryReply(ctx); err != nil {
			return err
		}
		printTurns(a.Session().Snapshot().Turns)
		return nil
	},
}

func init() {
	defaultURL := os.Getenv("THREADCHAT_SERVER")
	if defaultURL == "" {
		defaultURL = defaultServerURL
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", defaultURL, "base URL of the thread chat server")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log API calls to stderr")
	sendCmd.Flags().StringVarP(&threadID, "thread", "t", "", "existing thread to append to")

	rootCmd.AddCommand(replCmd, listCmd, showCmd, sendCmd, deleteCmd, retryCmd)
}

func newApp() *app.App {
	logger := zap.NewNop()
	if verbose {
		if l, err := zap.NewDevelopment(); err == nil {
			logger = l
		}
	}

	api := client.New(serverURL, client.WithLogger(logger.Named("client")))
	return app.NewApp(api, app.WithLogger(logger.Named("app")))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		errorColor.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func formatTime(unixMilli int64) string {
	if unixMilli == 0 {
		return ""
	}
	return time.UnixMilli(unixMilli).Format("2006-01-02 15:04")
}

func describeError(err error) string {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return fmt.Sprintf("invalid input: %v", err)
	case errors.Is(err, models.ErrThreadNotFound):
		return "thread no longer exists, started a new chat"
	case errors.Is(err, models.ErrReplyFailed):
		return "your message was saved but no reply was generated, type /retry to try again"
	case errors.Is(err, models.ErrUnavailable):
		return "server unavailable, showing cached data"
	default:
		return err.Error()
	}
}
