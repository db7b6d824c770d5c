package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/zjregee/threadchat/internal/models"
	"github.com/zjregee/threadchat/internal/service/storage"
)

type ThreadService struct {
	store   storage.Store
	replier Replier
	locks   *threadLocks
	logger  *zap.Logger
}

func NewThreadService(store storage.Store, replier Replier, logger *zap.Logger) *ThreadService {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ThreadService{
		store:   store,
		replier: replier,
		locks:   newThreadLocks(),
		logger:  logger.Named("service"),
	}
}

func (s *ThreadService) ListThreads(ctx context.Context) ([]*models.ThreadSummary, error) {
	summaries, err := s.store.ListSummaries(ctx)
	if err != nil {
		return nil, err
	}
	if summaries == nil {
		summaries = []*models.ThreadSummary{}
	}

	return summaries, nil
}

func (s *ThreadService) GetThread(ctx context.Context, id string) ([]*models.Turn, error) {
	if err := models.ValidateThreadID(id); err != nil {
		return nil, err
	}

	return s.store.GetTurns(ctx, id)
}

// AppendTurn stores one turn. A user turn is answered before returning, and
// the answer is appended directly after it. When the answer cannot be
// produced the error is a *models.ReplyFailure holding the stored turns.
func (s *ThreadService) AppendTurn(ctx context.Context, id string, role models.Role, content string) ([]*models.Turn, error) {
	if err := models.ValidateThreadID(id); err != nil {
		return nil, err
	}
	role, err := models.ParseRole(string(role))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: content is required", models.ErrInvalidInput)
	}

	unlock := s.locks.lock(id)
	defer unlock()

	turns, err := s.store.AppendTurn(ctx, id, models.NewTurn(role, content))
	if err != nil {
		return nil, err
	}
	if role != models.RoleUser {
		return turns, nil
	}

	return s.completeReply(ctx, id, turns)
}

// RegenerateReply answers a thread whose last turn is an unanswered user turn.
func (s *ThreadService) RegenerateReply(ctx context.Context, id string) ([]*models.Turn, error) {
	if err := models.ValidateThreadID(id); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(id)
	defer unlock()

	turns, err := s.store.GetTurns(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(turns) == 0 || turns[len(turns)-1].Role != models.RoleUser {
		return nil, fmt.Errorf("%w: thread %s has no unanswered user turn", models.ErrInvalidInput, id)
	}

	return s.completeReply(ctx, id, turns)
}

func (s *ThreadService) DeleteThread(ctx context.Context, id string) error {
	if err := models.ValidateThreadID(id); err != nil {
		return err
	}

	unlock := s.locks.lock(id)
	defer unlock()

	if err := s.store.DeleteThread(ctx, id); err != nil {
		return err
	}

	s.logger.Info("Thread deleted", zap.String("thread_id", id))
	return nil
}

// completeReply expects turns to end with the user turn being answered and
// the caller to hold the thread lock. The reply outlives a canceled request
// so a stored user turn is not left unanswered by a disconnecting client.
func (s *ThreadService) completeReply(ctx context.Context, id string, turns []*models.Turn) ([]*models.Turn, error) {
	ctx = context.WithoutCancel(ctx)

	last := turns[len(turns)-1]
	history := turns[:len(turns)-1]

	reply, err := s.replier.Reply(ctx, last.Content, history)
	if err != nil {
		s.logger.Warn("Reply generation failed", zap.String("thread_id", id), zap.Error(err))
		return nil, &models.ReplyFailure{
			ThreadID: id,
			Turns:    models.CloneTurns(turns),
			Err:      err,
		}
	}

	// The user turn is already stored, so a lost reply is retried with
	// RegenerateReply like any other reply failure.
	updated, err := s.store.AppendTurn(ctx, id, models.NewTurn(models.RoleAssistant, reply))
	if err != nil {
		s.logger.Warn("Failed to store reply", zap.String("thread_id", id), zap.Error(err))
		return nil, &models.ReplyFailure{
			ThreadID: id,
			Turns:    models.CloneTurns(turns),
			Err:      fmt.Errorf("failed to store reply: %w", err),
		}
	}

	return updated, nil
}
