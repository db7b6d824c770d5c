package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/zjregee/threadchat/internal/app"
	"github.com/zjregee/threadchat/internal/models"
)

var (
	userColor      = color.New(color.FgGreen, color.Bold)
	assistantColor = color.New(color.FgCyan, color.Bold)
	titleColor     = color.New(color.FgMagenta, color.Bold)
	infoColor      = color.New(color.FgHiBlack)
	errorColor     = color.New(color.FgRed)
	promptColor    = color.New(color.FgHiBlue)
)

func printTurns(turns []*models.Turn) {
	for _, turn := range turns {
		label := userColor.Sprint("you")
		if turn.Role == models.RoleAssistant {
			label = assistantColor.Sprint("assistant")
		}
		fmt.Printf("%s %s\n%s\n\n", label, infoColor.Sprint(formatTime(turn.Timestamp)), spaceMixedScripts(turn.Content))
	}
}

func printSummaries(state app.State) {
	if len(state.Summaries) == 0 {
		infoColor.Println("no threads yet")
		return
	}

	for i, summary := range state.Summaries {
		marker := " "
		if summary.ThreadID == state.ActiveID {
			marker = "*"
		}
		fmt.Printf("%s %2d. %s  %s  %s\n",
			marker,
			i+1,
			titleColor.Sprint(spaceMixedScripts(summary.Title)),
			infoColor.Sprint(formatTime(summary.UpdatedAt)),
			infoColor.Sprint(summary.ThreadID),
		)
	}
}

func printHelp() {
	lines := []string{
		"/new            start a new chat",
		"/list           list threads",
		"/open <n|id>    open a thread by list number or id",
		"/delete [n|id]  delete a thread (default: the active one)",
		"/retry          retry the last failed reply",
		"/quit           exit",
	}
	infoColor.Println(strings.Join(lines, "\n"))
}
