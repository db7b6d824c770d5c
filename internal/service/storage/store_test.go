package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zjregee/threadchat/internal/models"
	"github.com/zjregee/threadchat/internal/utils"
)

type openFunc func(t *testing.T) Store

func backends(t *testing.T) map[string]openFunc {
	t.Helper()

	result := map[string]openFunc{
		"bolt": func(t *testing.T) Store {
			store, err := OpenBolt(filepath.Join(t.TempDir(), "threads.db"), zaptest.NewLogger(t))
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
		"sqlite": func(t *testing.T) Store {
			store, err := OpenSQLite(":memory:", zaptest.NewLogger(t))
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
	}

	if uri := os.Getenv("THREADCHAT_TEST_MONGODB_URI"); uri != "" {
		result["mongodb"] = func(t *testing.T) Store {
			store, err := OpenMongo(context.Background(), uri, zaptest.NewLogger(t))
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })
			return store
		}
	}

	return result
}

var ignoreTimestamps = cmpopts.IgnoreFields(models.Turn{}, "Timestamp")

func TestStoreConformance(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("first append creates thread", func(t *testing.T) {
				testFirstAppendCreates(t, open(t))
			})
			t.Run("appends keep call order", func(t *testing.T) {
				testAppendOrder(t, open(t))
			})
			t.Run("get unknown thread", func(t *testing.T) {
				testGetUnknown(t, open(t))
			})
			t.Run("delete removes thread", func(t *testing.T) {
				testDelete(t, open(t))
			})
			t.Run("list summaries", func(t *testing.T) {
				testListSummaries(t, open(t))
			})
			t.Run("concurrent appends same thread", func(t *testing.T) {
				testConcurrentAppends(t, open(t))
			})
			t.Run("assistant first keeps default title", func(t *testing.T) {
				testAssistantFirstTitle(t, open(t))
			})
		})
	}
}

func testFirstAppendCreates(t *testing.T, store Store) {
	ctx := context.Background()
	id := utils.GenerateThreadID()

	summaries, err := store.ListSummaries(ctx)
	require.NoError(t, err)
	assert.Empty(t, summaries)

	turns, err := store.AppendTurn(ctx, id, models.NewTurn(models.RoleUser, "Hello"))
	require.NoError(t, err)
	require.Len(t, turns, 1)

	summaries, err = store.ListSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, id, summaries[0].ThreadID)
	assert.Equal(t, "Hello", summaries[0].Title)
}

func testAppendOrder(t *testing.T, store Store) {
	ctx := context.Background()
	id := utils.GenerateThreadID()

	var want []*models.Turn
	for i := 0; i < 5; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		turn := models.NewTurn(role, fmt.Sprintf("turn %d", i))
		want = append(want, &models.Turn{Role: turn.Role, Content: turn.Content})

		returned, err := store.AppendTurn(ctx, id, turn)
		require.NoError(t, err)
		require.Len(t, returned, i+1)
	}

	got, err := store.GetTurns(ctx, id)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got, ignoreTimestamps); diff != "" {
		t.Errorf("turns mismatch (-want +got):\n%s", diff)
	}
}

func testGetUnknown(t *testing.T, store Store) {
	_, err := store.GetTurns(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrThreadNotFound)
}

func testDelete(t *testing.T, store Store) {
	ctx := context.Background()
	keep := utils.GenerateThreadID()
	drop := utils.GenerateThreadID()

	_, err := store.AppendTurn(ctx, keep, models.NewTurn(models.RoleUser, "keep"))
	require.NoError(t, err)
	_, err = store.AppendTurn(ctx, drop, models.NewTurn(models.RoleUser, "drop"))
	require.NoError(t, err)
	_, err = store.AppendTurn(ctx, drop, models.NewTurn(models.RoleAssistant, "reply"))
	require.NoError(t, err)

	require.NoError(t, store.DeleteThread(ctx, drop))

	summaries, err := store.ListSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, keep, summaries[0].ThreadID)

	_, err = store.GetTurns(ctx, drop)
	assert.ErrorIs(t, err, models.ErrThreadNotFound)

	err = store.DeleteThread(ctx, drop)
	assert.ErrorIs(t, err, models.ErrThreadNotFound)
}

func testListSummaries(t *testing.T, store Store) {
	ctx := context.Background()
	t1 := utils.GenerateThreadID()
	t2 := utils.GenerateThreadID()

	_, err := store.AppendTurn(ctx, t1, models.NewTurn(models.RoleUser, "foo"))
	require.NoError(t, err)
	_, err = store.AppendTurn(ctx, t2, models.NewTurn(models.RoleUser, "bar"))
	require.NoError(t, err)
	_, err = store.AppendTurn(ctx, t1, models.NewTurn(models.RoleUser, "later message"))
	require.NoError(t, err)

	summaries, err := store.ListSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	titles := make(map[string]string, len(summaries))
	for _, summary := range summaries {
		_, dup := titles[summary.ThreadID]
		require.False(t, dup, "duplicate summary for %s", summary.ThreadID)
		titles[summary.ThreadID] = summary.Title
	}
	assert.Equal(t, map[string]string{t1: "foo", t2: "bar"}, titles)
	assert.GreaterOrEqual(t, summaries[0].UpdatedAt, summaries[1].UpdatedAt)
}

func testConcurrentAppends(t *testing.T, store Store) {
	ctx := context.Background()
	id := utils.GenerateThreadID()

	const writers = 8
	const perWriter = 5

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := store.AppendTurn(ctx, id, models.NewTurn(models.RoleUser, fmt.Sprintf("w%d-%d", w, i)))
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	turns, err := store.GetTurns(ctx, id)
	require.NoError(t, err)
	require.Len(t, turns, writers*perWriter)

	// Each writer's own turns must appear in the order it issued them.
	next := make(map[int]int, writers)
	for _, turn := range turns {
		var w, i int
		_, err := fmt.Sscanf(turn.Content, "w%d-%d", &w, &i)
		require.NoError(t, err)
		assert.Equal(t, next[w], i, "writer %d out of order", w)
		next[w] = i + 1
	}
}

func testAssistantFirstTitle(t *testing.T, store Store) {
	ctx := context.Background()
	id := utils.GenerateThreadID()

	_, err := store.AppendTurn(ctx, id, models.NewTurn(models.RoleAssistant, "unprompted"))
	require.NoError(t, err)

	summaries, err := store.ListSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, models.DefaultThreadTitle, summaries[0].Title)
}

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, "bolt://"+filepath.Join(t.TempDir(), "nested", "threads.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &BoltStore{}, store)
	require.NoError(t, store.Close())

	store, err = Open(ctx, "sqlite://:memory:", nil)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, store)
	require.NoError(t, store.Close())

	_, err = Open(ctx, "", nil)
	assert.Error(t, err)

	_, err = Open(ctx, "/tmp/threads.db", nil)
	assert.Error(t, err)

	_, err = Open(ctx, "redis://localhost", nil)
	assert.Error(t, err)
}

func TestMongoDatabaseName(t *testing.T) {
	assert.Equal(t, "chat", mongoDatabaseName("mongodb://localhost:27017/chat?retryWrites=true"))
	assert.Equal(t, defaultMongoDatabase, mongoDatabaseName("mongodb://localhost:27017"))
	assert.Equal(t, "prod", mongoDatabaseName("mongodb+srv://user:pw@cluster0.example.net/prod"))
}
