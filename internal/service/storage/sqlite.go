package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/zjregee/threadchat/internal/models"
)

type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func OpenSQLite(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite database path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection keeps ":memory:" databases alive and turns every
	// transaction into the single writer.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		_ = db.Close()
		return nil, unavailable(fmt.Errorf("failed to create threads table: %w", err))
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS turns (
			thread_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			PRIMARY KEY (thread_id, seq)
		)
	`)
	if err != nil {
		_ = db.Close()
		return nil, unavailable(fmt.Errorf("failed to create turns table: %w", err))
	}

	store := &SQLiteStore{
		db:     db,
		logger: logger.With(zap.String("backend", "sqlite"), zap.String("path", path)),
	}
	store.logger.Info("Thread store opened")
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListSummaries(ctx context.Context) ([]*models.ThreadSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, updated_at
		FROM threads
		ORDER BY updated_at DESC, id ASC
	`)
	if err != nil {
		return nil, unavailable(fmt.Errorf("failed to query threads: %w", err))
	}
	defer rows.Close()

	summaries := make([]*models.ThreadSummary, 0)
	for rows.Next() {
		summary := &models.ThreadSummary{}
		if err := rows.Scan(&summary.ThreadID, &summary.Title, &summary.UpdatedAt); err != nil {
			return nil, unavailable(fmt.Errorf("failed to scan thread row: %w", err))
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(fmt.Errorf("failed to iterate thread rows: %w", err))
	}

	return summaries, nil
}

func (s *SQLiteStore) GetTurns(ctx context.Context, threadID string) ([]*models.Turn, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if err := threadExists(ctx, tx, threadID); err != nil {
		return nil, err
	}

	return queryTurns(ctx, tx, threadID)
}

func (s *SQLiteStore) AppendTurn(ctx context.Context, threadID string, turn *models.Turn) ([]*models.Turn, error) {
	if turn == nil {
		return nil, fmt.Errorf("%w: turn is required", models.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	info := models.NewThreadInfo(threadID, turn)
	now := time.Now().UnixMilli()

	// The title is only written when the row is created.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO threads (id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at
	`, threadID, info.Title, info.CreatedAt, now)
	if err != nil {
		return nil, unavailable(fmt.Errorf("failed to upsert thread: %w", err))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO turns (thread_id, seq, role, content, timestamp)
		SELECT ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?
		FROM turns
		WHERE thread_id = ?
	`, threadID, string(turn.Role), turn.Content, turn.Timestamp, threadID)
	if err != nil {
		return nil, unavailable(fmt.Errorf("failed to insert turn: %w", err))
	}

	turns, err := queryTurns(ctx, tx, threadID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable(fmt.Errorf("failed to commit transaction: %w", err))
	}

	return turns, nil
}

func (s *SQLiteStore) DeleteThread(ctx context.Context, threadID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, threadID)
	if err != nil {
		return unavailable(fmt.Errorf("failed to delete thread: %w", err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return unavailable(fmt.Errorf("failed to check rows affected: %w", err))
	}
	if rowsAffected == 0 {
		return threadNotFound(threadID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE thread_id = ?`, threadID); err != nil {
		return unavailable(fmt.Errorf("failed to delete turns: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return unavailable(fmt.Errorf("failed to commit transaction: %w", err))
	}

	return nil
}

func threadExists(ctx context.Context, tx *sql.Tx, threadID string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM threads WHERE id = ?`, threadID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return threadNotFound(threadID)
	}
	if err != nil {
		return unavailable(fmt.Errorf("failed to query thread: %w", err))
	}
	return nil
}

func queryTurns(ctx context.Context, tx *sql.Tx, threadID string) ([]*models.Turn, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT role, content, timestamp
		FROM turns
		WHERE thread_id = ?
		ORDER BY seq ASC
	`, threadID)
	if err != nil {
		return nil, unavailable(fmt.Errorf("failed to query turns: %w", err))
	}
	defer rows.Close()

	turns := make([]*models.Turn, 0)
	for rows.Next() {
		var role string
		turn := &models.Turn{}
		if err := rows.Scan(&role, &turn.Content, &turn.Timestamp); err != nil {
			return nil, unavailable(fmt.Errorf("failed to scan turn row: %w", err))
		}
		turn.Role = models.Role(role)
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(fmt.Errorf("failed to iterate turn rows: %w", err))
	}

	return turns, nil
}
