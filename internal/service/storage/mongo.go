package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/zjregee/threadchat/internal/models"
)

const (
	defaultMongoDatabase   = "threadchat"
	mongoThreadsCollection = "threads"
	mongoConnectTimeout    = 10 * time.Second
)

type mongoTurn struct {
	Role      string    `bson:"role"`
	Content   string    `bson:"content"`
	Timestamp time.Time `bson:"timestamp"`
}

// mongoThread keeps the document shape of one record per thread with its
// ordered messages.
type mongoThread struct {
	ID        string      `bson:"_id"`
	ThreadID  string      `bson:"threadId"`
	Title     string      `bson:"title"`
	Messages  []mongoTurn `bson:"messages"`
	CreatedAt time.Time   `bson:"createdAt"`
	UpdatedAt time.Time   `bson:"updatedAt"`
}

type MongoStore struct {
	client  *mongo.Client
	threads *mongo.Collection
	logger  *zap.Logger
}

func OpenMongo(ctx context.Context, uri string, logger *zap.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	connectCtx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri).SetServerSelectionTimeout(mongoConnectTimeout))
	if err != nil {
		return nil, unavailable(fmt.Errorf("failed to connect to mongodb: %w", err))
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, unavailable(fmt.Errorf("failed to ping mongodb: %w", err))
	}

	database := mongoDatabaseName(uri)
	threads := client.Database(database).Collection(mongoThreadsCollection)

	_, err = threads.Indexes().CreateOne(connectCtx, mongo.IndexModel{
		Keys: bson.D{{Key: "updatedAt", Value: -1}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, unavailable(fmt.Errorf("failed to create updatedAt index: %w", err))
	}

	store := &MongoStore{
		client:  client,
		threads: threads,
		logger:  logger.With(zap.String("backend", "mongodb"), zap.String("database", database)),
	}
	store.logger.Info("Thread store opened")
	return store, nil
}

func mongoDatabaseName(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil {
		return defaultMongoDatabase
	}

	name := strings.Trim(parsed.Path, "/")
	if name == "" {
		return defaultMongoDatabase
	}
	return name
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) ListSummaries(ctx context.Context) ([]*models.ThreadSummary, error) {
	opts := options.Find().
		SetProjection(bson.M{"threadId": 1, "title": 1, "updatedAt": 1}).
		SetSort(bson.D{{Key: "updatedAt", Value: -1}, {Key: "_id", Value: 1}})

	cursor, err := s.threads.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, unavailable(fmt.Errorf("failed to query threads: %w", err))
	}

	var docs []mongoThread
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, unavailable(fmt.Errorf("failed to decode threads: %w", err))
	}

	summaries := make([]*models.ThreadSummary, 0, len(docs))
	for _, doc := range docs {
		summaries = append(summaries, &models.ThreadSummary{
			ThreadID:  doc.ID,
			Title:     doc.Title,
			UpdatedAt: doc.UpdatedAt.UnixMilli(),
		})
	}

	return summaries, nil
}

func (s *MongoStore) GetTurns(ctx context.Context, threadID string) ([]*models.Turn, error) {
	var doc mongoThread
	err := s.threads.FindOne(ctx, bson.M{"_id": threadID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, threadNotFound(threadID)
	}
	if err != nil {
		return nil, unavailable(fmt.Errorf("failed to query thread: %w", err))
	}

	return fromMongoTurns(doc.Messages), nil
}

// AppendTurn relies on findOneAndUpdate with $push and upsert, which MongoDB
// applies atomically to the single thread document.
func (s *MongoStore) AppendTurn(ctx context.Context, threadID string, turn *models.Turn) ([]*models.Turn, error) {
	if turn == nil {
		return nil, fmt.Errorf("%w: turn is required", models.ErrInvalidInput)
	}

	info := models.NewThreadInfo(threadID, turn)
	now := time.Now()

	update := bson.M{
		"$push": bson.M{"messages": toMongoTurn(turn)},
		"$set":  bson.M{"updatedAt": now},
		"$setOnInsert": bson.M{
			"threadId":  threadID,
			"title":     info.Title,
			"createdAt": now,
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc mongoThread
	err := retryDuplicateKey(func() error {
		return s.threads.FindOneAndUpdate(ctx, bson.M{"_id": threadID}, update, opts).Decode(&doc)
	})
	if err != nil {
		return nil, unavailable(fmt.Errorf("failed to append turn: %w", err))
	}

	return fromMongoTurns(doc.Messages), nil
}

// retryDuplicateKey runs fn a second time when it loses an upsert race. Two
// processes creating the same thread can both miss the document and insert;
// the loser's retry matches the winner's document and pushes onto it.
func retryDuplicateKey(fn func() error) error {
	err := fn()
	if mongo.IsDuplicateKeyError(err) {
		err = fn()
	}
	return err
}

func (s *MongoStore) DeleteThread(ctx context.Context, threadID string) error {
	result, err := s.threads.DeleteOne(ctx, bson.M{"_id": threadID})
	if err != nil {
		return unavailable(fmt.Errorf("failed to delete thread: %w", err))
	}
	if result.DeletedCount == 0 {
		return threadNotFound(threadID)
	}
	return nil
}

func toMongoTurn(turn *models.Turn) mongoTurn {
	return mongoTurn{
		Role:      string(turn.Role),
		Content:   turn.Content,
		Timestamp: time.UnixMilli(turn.Timestamp),
	}
}

func fromMongoTurns(messages []mongoTurn) []*models.Turn {
	turns := make([]*models.Turn, 0, len(messages))
	for _, msg := range messages {
		turns = append(turns, &models.Turn{
			Role:      models.Role(msg.Role),
			Content:   msg.Content,
			Timestamp: msg.Timestamp.UnixMilli(),
		})
	}
	return turns
}
