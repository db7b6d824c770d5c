package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zjregee/threadchat/internal/models"
)

// NewChat switches to a fresh draft id. The thread exists on the server only
// after the first message is sent.
func (a *App) NewChat(ctx context.Context) string {
	current := a.session.ActiveID()
	id := a.newID()
	for id == current {
		id = a.newID()
	}

	a.session.startNewChat(id)
	_ = a.RefreshSummaries(ctx)
	return id
}

// SwitchThread loads the turns of id while the thread list refreshes beside
// it. The turns are committed as soon as they arrive, and only if no later
// switch, new chat or delete happened.
func (a *App) SwitchThread(ctx context.Context, id string) error {
	if err := models.ValidateThreadID(id); err != nil {
		a.session.setError(err)
		return err
	}

	gen := a.session.beginSwitch(id)

	// Failures are recorded on the session and never gate the turns.
	var refresh errgroup.Group
	refresh.Go(func() error {
		_ = a.RefreshSummaries(ctx)
		return nil
	})
	defer func() { _ = refresh.Wait() }()

	turns, err := a.api.GetTurns(ctx, id)
	switch {
	case err == nil:
		if !a.session.commitSwitch(gen, id, turns) {
			a.logger.Debug("Discarded stale thread load", zap.String("thread_id", id))
		}
		return nil
	case errors.Is(err, models.ErrThreadNotFound):
		// A list fetched before the delete may still carry id.
		_ = refresh.Wait()
		a.session.removeSummary(id)
		if a.session.fail(gen, err) {
			a.NewChat(ctx)
			a.session.setError(err)
		}
		return fmt.Errorf("failed to open thread %s: %w", id, err)
	default:
		a.session.fail(gen, err)
		return fmt.Errorf("failed to open thread %s: %w", id, err)
	}
}

// DeleteThread changes the cache only after the server confirms. A 404 also
// confirms the thread is gone.
func (a *App) DeleteThread(ctx context.Context, id string) error {
	if err := models.ValidateThreadID(id); err != nil {
		a.session.setError(err)
		return err
	}

	err := a.api.DeleteThread(ctx, id)
	if err != nil && !errors.Is(err, models.ErrThreadNotFound) {
		a.session.setError(err)
		return fmt.Errorf("failed to delete thread %s: %w", id, err)
	}

	a.session.removeSummary(id)
	if a.session.ActiveID() == id {
		a.NewChat(ctx)
	}
	return nil
}
