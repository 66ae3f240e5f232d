package history_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"imagebot/internal/database"
	"imagebot/internal/history"
	"imagebot/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *history.Store {
	return history.NewStore(testutil.OpenDB(t), time.UTC)
}

func appendMessage(t *testing.T, s *history.Store, chatID, message string, at time.Time) *database.History {
	t.Helper()
	rec := &database.History{
		ChatID:          chatID,
		Name:            "Вася",
		Number:          "1",
		Message:         message,
		TokenCount:      10,
		LastGeneratedAt: at,
	}
	require.NoError(t, s.Append(context.Background(), rec))
	return rec
}

func TestAppendAssignsIncreasingIDs(t *testing.T) {
	s := newStore(t)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	a := appendMessage(t, s, "1", "a", now)
	b := appendMessage(t, s, "1", "b", now)
	c := appendMessage(t, s, "2", "c", now)

	assert.Less(t, a.ID, b.ID)
	assert.Less(t, b.ID, c.ID)
}

func TestAppendRejectsExistingID(t *testing.T) {
	s := newStore(t)
	rec := appendMessage(t, s, "1", "a", time.Now())

	assert.Error(t, s.Append(context.Background(), rec))
}

func TestLatest(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Latest(ctx, "1")
	assert.ErrorIs(t, err, history.ErrNotFound)

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	appendMessage(t, s, "1", "first", now)
	last := appendMessage(t, s, "1", "second", now)
	appendMessage(t, s, "2", "other chat", now.Add(time.Hour))

	got, err := s.Latest(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, last.ID, got.ID)
	assert.Equal(t, "second", got.Message)
	assert.True(t, now.Equal(got.LastGeneratedAt))
}

func TestRecentHidesCommands(t *testing.T) {
	s := newStore(t)
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for i, msg := range []string{"/start", "cat", "/menu", "dog"} {
		appendMessage(t, s, "1", msg, start.Add(time.Duration(i)*time.Minute))
	}

	recs, err := s.Recent(context.Background(), "1", 10, "/")
	require.NoError(t, err)

	var messages []string
	for _, r := range recs {
		messages = append(messages, r.Message)
	}
	assert.Equal(t, []string{"dog", "cat"}, messages)
}

func TestRecentTieBreaksByID(t *testing.T) {
	s := newStore(t)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	appendMessage(t, s, "1", "one", at)
	appendMessage(t, s, "1", "two", at)
	appendMessage(t, s, "1", "three", at)

	recs, err := s.Recent(context.Background(), "1", 2, "/")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "three", recs[0].Message)
	assert.Equal(t, "two", recs[1].Message)
}

func TestRecentEscapesLikePattern(t *testing.T) {
	s := newStore(t)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	appendMessage(t, s, "1", "%hidden", at)
	appendMessage(t, s, "1", "visible", at)

	recs, err := s.Recent(context.Background(), "1", 10, "%")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "visible", recs[0].Message)
}

func TestMonthlyCounts(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		appendMessage(t, s, "1", "jan", time.Date(2024, 1, 10+i, 12, 0, 0, 0, time.UTC))
	}
	for i := 0; i < 5; i++ {
		appendMessage(t, s, "1", "mar", time.Date(2024, 3, 1+i, 12, 0, 0, 0, time.UTC))
	}
	appendMessage(t, s, "1", "/history", time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC))
	appendMessage(t, s, "2", "other", time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC))

	counts, err := s.MonthlyCounts(ctx, "1", "/")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"2024-01": 2, "2024-03": 5}, counts.AsMap())

	low, ok := counts.Lowest()
	require.True(t, ok)
	assert.Equal(t, "2024-01", low.Month)

	high, ok := counts.Highest()
	require.True(t, ok)
	assert.Equal(t, "2024-03", high.Month)
	assert.Equal(t, 5, high.Count)
}

func TestMonthlyCountsEmpty(t *testing.T) {
	s := newStore(t)

	counts, err := s.MonthlyCounts(context.Background(), "nobody", "/")
	require.NoError(t, err)
	assert.Empty(t, counts)

	_, ok := counts.Lowest()
	assert.False(t, ok)
}

func TestMonthlyCountsUsesStoreLocation(t *testing.T) {
	msk := time.FixedZone("MSK", 3*60*60)
	s := history.NewStore(testutil.OpenDB(t), msk)

	// 31 января 22:00 UTC — уже февраль по Москве
	appendMessage(t, s, "1", "late", time.Date(2024, 1, 31, 22, 0, 0, 0, time.UTC))

	counts, err := s.MonthlyCounts(context.Background(), "1", "/")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"2024-02": 1}, counts.AsMap())
}

func TestTransactionRollsBack(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	err := s.Transaction(ctx, func(tx *history.Store) error {
		appendMessage(t, tx, "1", "lost", time.Now())
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	_, err = s.Latest(ctx, "1")
	assert.ErrorIs(t, err, history.ErrNotFound)
}

func TestConcurrentAppendsAcrossChats(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for _, chat := range []string{"1", "2", "3", "4"} {
		wg.Add(1)
		go func(chat string) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				assert.NoError(t, s.Append(ctx, &database.History{ChatID: chat, Message: "m", TokenCount: 10, LastGeneratedAt: at}))
			}
		}(chat)
	}
	wg.Wait()

	for _, chat := range []string{"1", "2", "3", "4"} {
		recs, err := s.Recent(ctx, chat, 100, "/")
		require.NoError(t, err)
		assert.Len(t, recs, 10)
	}
}
