package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"imagebot/internal/clock"
	"imagebot/internal/database"
	"imagebot/internal/history"
	"imagebot/internal/obfuscate"
	"imagebot/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chatID int64 = 424242

var today = time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Manager, *history.Store, *clock.Fake) {
	t.Helper()
	store := history.NewStore(testutil.OpenDB(t), time.UTC)
	clk := clock.NewFake(today)
	return NewManager(store, clk, time.UTC), store, clk
}

func seed(t *testing.T, store *history.Store, tokens int, at time.Time) {
	t.Helper()
	require.NoError(t, store.Append(context.Background(), &database.History{
		ChatID:          obfuscate.EncodeID(chatID),
		Message:         obfuscate.Encode("/start", chatID),
		TokenCount:      tokens,
		LastGeneratedAt: at,
	}))
}

func latestTokens(t *testing.T, store *history.Store) int {
	t.Helper()
	rec, err := store.Latest(context.Background(), obfuscate.EncodeID(chatID))
	require.NoError(t, err)
	return rec.TokenCount
}

func countRecords(t *testing.T, store *history.Store) int {
	t.Helper()
	recs, err := store.Recent(context.Background(), obfuscate.EncodeID(chatID), 1000, "")
	require.NoError(t, err)
	return len(recs)
}

var entry = Entry{Name: "Вася", Number: "7", Message: "кот в сапогах"}

func TestConsumeDecrements(t *testing.T) {
	m, store, _ := setup(t)
	seed(t, store, 3, today.Add(-time.Hour))

	res, err := m.Consume(context.Background(), chatID, entry)
	require.NoError(t, err)
	assert.Equal(t, Result{Status: Allowed, Remaining: 2}, res)
	assert.Equal(t, 2, latestTokens(t, store))

	rec, err := store.Latest(context.Background(), obfuscate.EncodeID(chatID))
	require.NoError(t, err)
	assert.Equal(t, entry.Message, obfuscate.Decode(rec.Message, chatID))
	assert.True(t, today.Equal(rec.LastGeneratedAt))
}

func TestConsumeUntilExhausted(t *testing.T) {
	m, store, _ := setup(t)
	seed(t, store, 1, today)
	ctx := context.Background()

	res, err := m.Consume(ctx, chatID, entry)
	require.NoError(t, err)
	assert.Equal(t, Allowed, res.Status)
	assert.Equal(t, 0, res.Remaining)

	before := countRecords(t, store)
	for i := 0; i < 2; i++ {
		res, err = m.Consume(ctx, chatID, entry)
		require.NoError(t, err)
		assert.Equal(t, Denied, res.Status)
	}
	assert.Equal(t, before, countRecords(t, store), "denied attempts must not write")
	assert.Equal(t, 0, latestTokens(t, store))
}

func TestConsumeResetsOnNewDay(t *testing.T) {
	m, store, _ := setup(t)
	seed(t, store, 0, today.AddDate(0, 0, -1))

	res, err := m.Consume(context.Background(), chatID, entry)
	require.NoError(t, err)
	assert.Equal(t, Result{Status: Allowed, Remaining: 49}, res)
	assert.Equal(t, 49, latestTokens(t, store))
}

func TestConsumeWithoutHistory(t *testing.T) {
	m, store, _ := setup(t)

	res, err := m.Consume(context.Background(), chatID, entry)
	require.NoError(t, err)
	assert.Equal(t, NotFound, res.Status)
	assert.Equal(t, 0, countRecords(t, store))
}

func TestLogCarriesEffectiveBalance(t *testing.T) {
	m, store, clk := setup(t)
	ctx := context.Background()

	balance, err := m.Log(ctx, chatID, Entry{Name: "Вася", Number: "1", Message: "/start"})
	require.NoError(t, err)
	assert.Equal(t, InitialTokens, balance)

	_, err = m.Consume(ctx, chatID, entry)
	require.NoError(t, err)

	balance, err = m.Log(ctx, chatID, Entry{Message: "/tokens"})
	require.NoError(t, err)
	assert.Equal(t, InitialTokens-1, balance)

	clk.Advance(24 * time.Hour)
	balance, err = m.Log(ctx, chatID, Entry{Message: "/tokens"})
	require.NoError(t, err)
	assert.Equal(t, DailyTokens, balance)
	assert.Equal(t, DailyTokens, latestTokens(t, store))

	// сброс уже случился, следующее списание идёт от 50
	res, err := m.Consume(ctx, chatID, entry)
	require.NoError(t, err)
	assert.Equal(t, DailyTokens-1, res.Remaining)
}

func TestBalance(t *testing.T) {
	m, store, clk := setup(t)
	ctx := context.Background()

	res, err := m.Balance(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, Result{Status: NotFound}, res)

	seed(t, store, 0, today)
	res, err = m.Balance(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, Result{Status: Denied}, res)

	clk.Advance(24 * time.Hour)
	res, err = m.Balance(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, Result{Status: Allowed, Remaining: DailyTokens}, res)
	assert.Equal(t, 1, countRecords(t, store), "balance is read-only")
}

func TestReserveRelease(t *testing.T) {
	m, store, _ := setup(t)
	seed(t, store, 5, today)
	ctx := context.Background()

	res, result, err := m.Reserve(ctx, chatID)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 4, result.Remaining)
	assert.Equal(t, 4, res.Remaining())

	res.Release()
	res.Release()
	assert.Error(t, res.Commit(ctx, entry))

	assert.Equal(t, 1, countRecords(t, store))
	assert.Equal(t, 5, latestTokens(t, store))
	assert.Equal(t, 0, m.locks.size())
}

func TestReserveBlocksSameChat(t *testing.T) {
	m, store, _ := setup(t)
	seed(t, store, 5, today)
	ctx := context.Background()

	res, _, err := m.Reserve(ctx, chatID)
	require.NoError(t, err)

	logged := make(chan struct{})
	go func() {
		_, err := m.Log(ctx, chatID, Entry{Message: "/tokens"})
		assert.NoError(t, err)
		close(logged)
	}()

	select {
	case <-logged:
		t.Fatal("log must wait for the open reservation")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, res.Commit(ctx, entry))
	<-logged
	assert.Equal(t, 4, latestTokens(t, store))
}

func TestCommitDetectsConflict(t *testing.T) {
	m, store, _ := setup(t)
	seed(t, store, 5, today)
	ctx := context.Background()

	res, _, err := m.Reserve(ctx, chatID)
	require.NoError(t, err)

	// запись мимо менеджера, как от другого процесса
	seed(t, store, 5, today)

	err = res.Commit(ctx, entry)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 0, m.locks.size())
}

func TestConcurrentConsume(t *testing.T) {
	m, store, _ := setup(t)
	const balance, calls = 5, 20
	seed(t, store, balance, today)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
		denied  int
	)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.Consume(context.Background(), chatID, entry)
			assert.NoError(t, err)

			mu.Lock()
			defer mu.Unlock()
			switch res.Status {
			case Allowed:
				allowed++
			case Denied:
				denied++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, balance, allowed)
	assert.Equal(t, calls-balance, denied)
	assert.Equal(t, 0, latestTokens(t, store))
	assert.Equal(t, 1+balance, countRecords(t, store))
}

func TestCommitAcrossMidnightKeepsDailyReset(t *testing.T) {
	m, store, clk := setup(t)
	ctx := context.Background()

	evening := time.Date(2024, 3, 10, 23, 58, 0, 0, time.UTC)
	seed(t, store, 3, evening)
	clk.Set(evening.Add(time.Minute))

	res, result, err := m.Reserve(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Remaining)

	// генерация закончилась уже на следующие сутки
	clk.Advance(2 * time.Minute)
	require.NoError(t, res.Commit(ctx, entry))

	rec, err := store.Latest(ctx, obfuscate.EncodeID(chatID))
	require.NoError(t, err)
	assert.Equal(t, 2, rec.TokenCount)
	assert.True(t, evening.Add(time.Minute).Equal(rec.LastGeneratedAt))

	balance, err := m.Balance(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, Result{Status: Allowed, Remaining: DailyTokens}, balance)

	consumed, err := m.Consume(ctx, chatID, entry)
	require.NoError(t, err)
	assert.Equal(t, DailyTokens-1, consumed.Remaining)
}
