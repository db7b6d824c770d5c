package models

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/cloudwego/eino/schema"
)

const DefaultThreadTitle = "New chat"

const (
	maxTitleRunes    = 40
	maxThreadIDBytes = 128
)

type Role = schema.RoleType

const (
	RoleUser      Role = schema.User
	RoleAssistant Role = schema.Assistant
)

type ThreadInfo struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

type ThreadSummary struct {
	ThreadID  string `json:"threadId"`
	Title     string `json:"title"`
	UpdatedAt int64  `json:"updatedAt"`
}

type Turn struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

func NewTurn(role Role, content string) *Turn {
	return &Turn{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewThreadInfo builds the record written when the first turn of a thread is
// appended.
func NewThreadInfo(id string, first *Turn) *ThreadInfo {
	now := time.Now().UnixMilli()
	title := DefaultThreadTitle
	if first != nil && first.Role == RoleUser {
		title = DeriveTitle(first.Content)
	}

	return &ThreadInfo{
		ID:        id,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (i *ThreadInfo) Summary() *ThreadSummary {
	return &ThreadSummary{
		ThreadID:  i.ID,
		Title:     i.Title,
		UpdatedAt: i.UpdatedAt,
	}
}

func ParseRole(value string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case "", RoleUser:
		return RoleUser, nil
	case RoleAssistant:
		return RoleAssistant, nil
	default:
		return "", fmt.Errorf("%w: unsupported role %q", ErrInvalidInput, value)
	}
}

func ValidateThreadID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: thread id is required", ErrInvalidInput)
	}
	if len(id) > maxThreadIDBytes {
		return fmt.Errorf("%w: thread id exceeds %d bytes", ErrInvalidInput, maxThreadIDBytes)
	}
	for _, r := range id {
		if r == '/' || unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: thread id contains invalid character %q", ErrInvalidInput, r)
		}
	}

	return nil
}

// DeriveTitle turns the first user message into a sidebar label.
func DeriveTitle(content string) string {
	title := strings.Join(strings.Fields(content), " ")

	if len(title) >= 2 && title[0] == '"' && title[len(title)-1] == '"' {
		title = strings.TrimSpace(title[1 : len(title)-1])
	}

	runes := []rune(title)
	if len(runes) > maxTitleRunes {
		title = strings.TrimSpace(string(runes[:maxTitleRunes-3])) + "..."
	}

	if title == "" {
		return DefaultThreadTitle
	}

	return title
}

func CloneTurns(turns []*Turn) []*Turn {
	cloned := make([]*Turn, 0, len(turns))
	for _, turn := range turns {
		if turn == nil {
			continue
		}
		copied := *turn
		cloned = append(cloned, &copied)
	}

	return cloned
}
