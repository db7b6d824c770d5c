package storage

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/zjregee/threadchat/internal/models"
)

// Store is the durable thread collection. Implementations serialize
// concurrent appends to the same thread id and make every call atomic.
type Store interface {
	// ListSummaries returns one summary per thread, most recently updated first.
	ListSummaries(ctx context.Context) ([]*models.ThreadSummary, error)
	// GetTurns fails with models.ErrThreadNotFound for an unknown id.
	GetTurns(ctx context.Context, threadID string) ([]*models.Turn, error)
	// AppendTurn creates the thread on first use and returns the full turn
	// sequence after the append.
	AppendTurn(ctx context.Context, threadID string, turn *models.Turn) ([]*models.Turn, error)
	// DeleteThread removes the thread and its turns, or fails with
	// models.ErrThreadNotFound.
	DeleteThread(ctx context.Context, threadID string) error
	Close() error
}

var errCorruptRecord = errors.New("corrupt thread record")

// Open selects a backend from the connection string scheme.
func Open(ctx context.Context, uri string, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("storage")

	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, fmt.Errorf("database connection string is required")
	}

	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return nil, fmt.Errorf("database connection string %q has no scheme", uri)
	}

	switch strings.ToLower(scheme) {
	case "bolt", "bbolt":
		return OpenBolt(rest, logger)
	case "sqlite":
		return OpenSQLite(rest, logger)
	case "mongodb", "mongodb+srv":
		return OpenMongo(ctx, uri, logger)
	default:
		return nil, fmt.Errorf("unsupported database scheme: %s", scheme)
	}
}

func unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrThreadNotFound) || errors.Is(err, errCorruptRecord) || errors.Is(err, models.ErrUnavailable) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	return fmt.Errorf("%w: %w", models.ErrUnavailable, err)
}

func threadNotFound(id string) error {
	return fmt.Errorf("%w: %s", models.ErrThreadNotFound, id)
}

func sortSummaries(summaries []*models.ThreadSummary) {
	slices.SortStableFunc(summaries, func(a, b *models.ThreadSummary) int {
		if c := cmp.Compare(b.UpdatedAt, a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ThreadID, b.ThreadID)
	})
}
