package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zjregee/threadchat/internal/config"
	"github.com/zjregee/threadchat/internal/models"
)

const defaultReplyTimeout = 60 * time.Second

var errEmptyReply = errors.New("model returned an empty reply")

// Replier produces the assistant answer to content given the turns that
// precede it.
type Replier interface {
	Reply(ctx context.Context, content string, history []*models.Turn) (string, error)
}

type ChatModelReplier struct {
	model        model.BaseChatModel
	info         *models.ModelInfo
	systemPrompt string
	timeout      time.Duration
	logger       *zap.Logger
}

func NewChatModelReplier(cm model.BaseChatModel, systemPrompt string, timeout time.Duration, logger *zap.Logger) *ChatModelReplier {
	if timeout <= 0 {
		timeout = defaultReplyTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ChatModelReplier{
		model:        cm,
		systemPrompt: strings.TrimSpace(systemPrompt),
		timeout:      timeout,
		logger:       logger,
	}
}

// NewReplier wires the configured provider into a ChatModelReplier.
func NewReplier(ctx context.Context, cfg config.ReplyConfig, logger *zap.Logger) (*ChatModelReplier, error) {
	cm, err := NewChatModel(ctx, cfg)
	if err != nil {
		return nil, err
	}

	replier := NewChatModelReplier(cm, cfg.SystemPrompt, cfg.Timeout, logger)
	replier.info = modelInfo(cfg)
	return replier, nil
}

// Model describes the backing chat model, or nil when it was injected directly.
func (r *ChatModelReplier) Model() *models.ModelInfo {
	return r.info
}

func (r *ChatModelReplier) Reply(ctx context.Context, content string, history []*models.Turn) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	response, err := r.model.Generate(ctx, r.buildMessages(content, history))
	if err != nil {
		return "", fmt.Errorf("failed to generate reply: %w", err)
	}
	if response == nil || strings.TrimSpace(response.Content) == "" {
		return "", errEmptyReply
	}

	r.logger.Debug("Reply generated",
		zap.Int("history", len(history)),
		zap.Duration("duration", time.Since(start)),
	)

	return response.Content, nil
}

func (r *ChatModelReplier) buildMessages(content string, history []*models.Turn) []*schema.Message {
	messages := make([]*schema.Message, 0, len(history)+2)
	if r.systemPrompt != "" {
		messages = append(messages, schema.SystemMessage(r.systemPrompt))
	}

	for _, turn := range history {
		switch turn.Role {
		case models.RoleUser:
			messages = append(messages, schema.UserMessage(turn.Content))
		case models.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(turn.Content, nil))
		default:
		}
	}

	return append(messages, schema.UserMessage(content))
}
