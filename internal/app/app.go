// Package app keeps the client session in step with the thread API.
package app

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/zjregee/threadchat/internal/models"
	"github.com/zjregee/threadchat/internal/utils"
)

// API is the remote thread service as the client sees it.
type API interface {
	ListSummaries(ctx context.Context) ([]*models.ThreadSummary, error)
	GetTurns(ctx context.Context, threadID string) ([]*models.Turn, error)
	SendMessage(ctx context.Context, threadID, content string) ([]*models.Turn, error)
	RegenerateReply(ctx context.Context, threadID string) ([]*models.Turn, error)
	DeleteThread(ctx context.Context, threadID string) error
}

type App struct {
	api       API
	session   *Session
	summaries singleflight.Group
	newID     func() string
	logger    *zap.Logger
}

type Option func(*App)

// WithIDGenerator replaces the thread id source used for new chats.
func WithIDGenerator(newID func() string) Option {
	return func(a *App) {
		a.newID = newID
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(a *App) {
		a.logger = logger
	}
}

func NewApp(api API, opts ...Option) *App {
	a := &App{
		api:    api,
		newID:  utils.GenerateThreadID,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.session = NewSession(a.newID())
	return a
}

func (a *App) Session() *Session {
	return a.session
}

// Startup loads the thread list. The session starts on a new chat draft.
func (a *App) Startup(ctx context.Context) error {
	return a.RefreshSummaries(ctx)
}

// RefreshSummaries coalesces concurrent refreshes into one request.
func (a *App) RefreshSummaries(ctx context.Context) error {
	_, err, shared := a.summaries.Do("summaries", func() (any, error) {
		summaries, err := a.api.ListSummaries(ctx)
		if err != nil {
			a.logger.Warn("Failed to refresh thread list", zap.Error(err))
			a.session.summariesFailed(err)
			return nil, err
		}

		a.session.setSummaries(summaries)
		return nil, nil
	})
	if shared {
		a.logger.Debug("Thread list refresh coalesced")
	}
	return err
}
