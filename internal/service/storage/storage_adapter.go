package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/zjregee/threadchat/internal/models"
)

const threadKeyPrefix = "thread:"

type ThreadRecord struct {
	Info  *models.ThreadInfo `json:"info"`
	Turns []*models.Turn     `json:"turns"`
}

func threadKey(id string) []byte {
	return []byte(threadKeyPrefix + id)
}

func decodeThreadRecord(key, value []byte) (*ThreadRecord, error) {
	if len(value) == 0 {
		return nil, nil
	}

	var record ThreadRecord
	if err := json.Unmarshal(value, &record); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal %s: %v", errCorruptRecord, key, err)
	}
	if record.Info == nil {
		return nil, fmt.Errorf("%w: %s has no info", errCorruptRecord, key)
	}

	return &record, nil
}

func (s *BoltStore) ListSummaries(ctx context.Context) ([]*models.ThreadSummary, error) {
	summaries := make([]*models.ThreadSummary, 0)
	err := s.list(ctx, []byte(threadKeyPrefix), func(key, value []byte) error {
		if len(value) == 0 {
			return nil
		}
		if !gjson.ValidBytes(value) {
			return fmt.Errorf("%w: %s is not valid json", errCorruptRecord, key)
		}

		fields := gjson.GetManyBytes(value, "info.id", "info.title", "info.updated_at")
		if !fields[0].Exists() {
			return nil
		}

		summaries = append(summaries, &models.ThreadSummary{
			ThreadID:  fields[0].String(),
			Title:     fields[1].String(),
			UpdatedAt: fields[2].Int(),
		})
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}

	sortSummaries(summaries)
	return summaries, nil
}

func (s *BoltStore) GetTurns(ctx context.Context, threadID string) ([]*models.Turn, error) {
	var turns []*models.Turn
	err := s.view(ctx, func(bucket *bolt.Bucket) error {
		key := threadKey(threadID)
		record, err := decodeThreadRecord(key, bucket.Get(key))
		if err != nil {
			return err
		}
		if record == nil {
			return threadNotFound(threadID)
		}

		turns = models.CloneTurns(record.Turns)
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}

	return turns, nil
}

func (s *BoltStore) AppendTurn(ctx context.Context, threadID string, turn *models.Turn) ([]*models.Turn, error) {
	if turn == nil {
		return nil, fmt.Errorf("%w: turn is required", models.ErrInvalidInput)
	}

	var turns []*models.Turn
	created := false
	err := s.update(ctx, func(bucket *bolt.Bucket) error {
		key := threadKey(threadID)
		record, err := decodeThreadRecord(key, bucket.Get(key))
		if err != nil {
			return err
		}
		if record == nil {
			record = &ThreadRecord{Info: models.NewThreadInfo(threadID, turn)}
			created = true
		}

		record.Turns = append(record.Turns, turn)
		record.Info.UpdatedAt = time.Now().UnixMilli()

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal thread %s: %w", threadID, err)
		}
		if err := bucket.Put(key, data); err != nil {
			return err
		}

		turns = models.CloneTurns(record.Turns)
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}

	if created {
		s.logger.Debug("Thread created", zap.String("thread_id", threadID))
	}
	return turns, nil
}

func (s *BoltStore) DeleteThread(ctx context.Context, threadID string) error {
	err := s.update(ctx, func(bucket *bolt.Bucket) error {
		key := threadKey(threadID)
		if bucket.Get(key) == nil {
			return threadNotFound(threadID)
		}
		return bucket.Delete(key)
	})
	return unavailable(err)
}
