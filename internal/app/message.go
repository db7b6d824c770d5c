package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zjregee/threadchat/internal/models"
)

var errSuperseded = errors.New("request superseded by a newer session change")

// Send posts content to the active thread and replaces the local turns with
// the server's sequence. Nothing is appended locally before the response.
func (a *App) Send(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		err := fmt.Errorf("%w: message is empty", models.ErrInvalidInput)
		a.session.setError(err)
		return err
	}

	id, draft, gen := a.session.current()
	if !a.session.beginRequest(gen) {
		return errSuperseded
	}

	turns, err := a.api.SendMessage(ctx, id, content)
	err = a.commit(gen, id, turns, err)

	// A reply failure still stored the user turn, so a draft became a thread.
	if draft && (err == nil || errors.Is(err, models.ErrReplyFailed)) {
		_ = a.RefreshSummaries(ctx)
	}
	return err
}

// RetryReply asks the server to answer the last unanswered user turn.
func (a *App) RetryReply(ctx context.Context) error {
	id, _, gen := a.session.current()
	if !a.session.beginRequest(gen) {
		return errSuperseded
	}

	turns, err := a.api.RegenerateReply(ctx, id)
	return a.commit(gen, id, turns, err)
}

func (a *App) commit(gen uint64, id string, turns []*models.Turn, err error) error {
	if err == nil {
		a.session.commitTurns(gen, id, turns, false)
		return nil
	}

	var failure *models.ReplyFailure
	if errors.As(err, &failure) {
		if a.session.commitTurns(gen, id, failure.Turns, true) {
			a.session.setError(err)
		}
		return err
	}

	a.session.fail(gen, err)
	return err
}
