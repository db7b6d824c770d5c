package main

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/zjregee/threadchat/internal/app"
	"github.com/zjregee/threadchat/internal/models"
)

func historyFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "threadchat.history")
	}
	return filepath.Join(dir, "threadchat", "history")
}

func runRepl(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a := newApp()

	if err := a.Startup(ctx); err != nil {
		errorColor.Println(describeError(err))
	}

	history := historyFile()
	_ = os.MkdirAll(filepath.Dir(history), 0755)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            promptColor.Sprint("> "),
		InterruptPrompt:   "^C",
		EOFPrompt:         "/quit",
		HistoryFile:       history,
		HistorySearchFold: true,
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	titleColor.Println("threadchat")
	infoColor.Println("type a message to chat, /help for commands")

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if !strings.HasPrefix(line, "/") {
			if err := a.Send(ctx, line); err != nil {
				errorColor.Println(describeError(err))
				continue
			}
			printLastReply(a.Session().Snapshot())
			continue
		}

		command, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)

		switch command {
		case "/quit", "/exit":
			return nil
		case "/help":
			printHelp()
		case "/new":
			id := a.NewChat(ctx)
			infoColor.Printf("new chat %s\n", id)
		case "/list":
			if err := a.RefreshSummaries(ctx); err != nil {
				errorColor.Println(describeError(err))
			}
			printSummaries(a.Session().Snapshot())
		case "/open":
			id := resolveThread(a.Session().Snapshot(), arg)
			if id == "" {
				errorColor.Println("usage: /open <n|id>")
				continue
			}
			if err := a.SwitchThread(ctx, id); err != nil {
				errorColor.Println(describeError(err))
				continue
			}
			printTurns(a.Session().Snapshot().Turns)
		case "/delete":
			state := a.Session().Snapshot()
			id := state.ActiveID
			if arg != "" {
				id = resolveThread(state, arg)
			}
			if err := a.DeleteThread(ctx, id); err != nil {
				errorColor.Println(describeError(err))
				continue
			}
			infoColor.Printf("deleted %s\n", id)
		case "/retry":
			if !a.Session().Snapshot().ReplyFailed {
				infoColor.Println("nothing to retry")
				continue
			}
			if err := a.RetryReply(ctx); err != nil {
				errorColor.Println(describeError(err))
				continue
			}
			printLastReply(a.Session().Snapshot())
		default:
			errorColor.Printf("unknown command %s\n", command)
			printHelp()
		}
	}
}

// resolveThread accepts a 1-based position in the cached list or a raw id.
func resolveThread(state app.State, arg string) string {
	if arg == "" {
		return ""
	}
	if n, err := strconv.Atoi(arg); err == nil && n >= 1 && n <= len(state.Summaries) {
		return state.Summaries[n-1].ThreadID
	}
	return arg
}

func printLastReply(state app.State) {
	turns := state.Turns
	if len(turns) == 0 {
		return
	}
	last := turns[len(turns)-1]
	if last.Role == models.RoleAssistant {
		printTurns(turns[len(turns)-1:])
	}
}
