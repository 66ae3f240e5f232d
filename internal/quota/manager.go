// Package quota ведёт дневной лимит генераций для каждого чата.
//
// Отдельного счётчика нет: остаток берётся из последней записи журнала
// истории, а каждое списание добавляет новую запись. Проверка и списание
// для одного чата сериализуются мьютексом чата и подтверждаются в
// транзакции сравнением id последней записи.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"imagebot/internal/clock"
	"imagebot/internal/database"
	"imagebot/internal/history"
	"imagebot/internal/obfuscate"
)

const (
	// InitialTokens — остаток в самой первой записи чата.
	InitialTokens = 10
	// DailyTokens — остаток после сброса в начале нового дня.
	DailyTokens = 50
)

// ErrConflict — журнал чата изменился между резервированием и подтверждением
// (например, запись сделал другой процесс).
var ErrConflict = errors.New("quota: history changed during reservation")

type Status int

const (
	NotFound Status = iota
	Denied
	Allowed
)

func (s Status) String() string {
	switch s {
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	default:
		return "not_found"
	}
}

// Result — исход проверки квоты. Remaining имеет смысл только для Allowed
// и для Balance.
type Result struct {
	Status    Status
	Remaining int
}

// Entry — открытые (незакодированные) поля записи журнала.
type Entry struct {
	Name    string
	Number  string
	Message string
}

type Manager struct {
	store *history.Store
	clock clock.Clock
	loc   *time.Location
	locks *keyedMutex
}

func NewManager(store *history.Store, clk clock.Clock, loc *time.Location) *Manager {
	if loc == nil {
		loc = time.Local
	}
	return &Manager{
		store: store,
		clock: clk,
		loc:   loc,
		locks: newKeyedMutex(),
	}
}

// effective возвращает остаток с учётом суточного сброса.
func (m *Manager) effective(latest *database.History, now time.Time) int {
	if latest == nil {
		return InitialTokens
	}
	if clock.Before(latest.LastGeneratedAt, now, m.loc) {
		return DailyTokens
	}
	return latest.TokenCount
}

// Log записывает входящее сообщение чата. В запись попадает действующий
// остаток: 10 для первой записи, 50 в первый раз за новый день, иначе
// остаток из последней записи. Возвращает записанный остаток.
func (m *Manager) Log(ctx context.Context, chatID int64, e Entry) (int, error) {
	key := obfuscate.EncodeID(chatID)
	unlock := m.locks.Lock(key)
	defer unlock()

	var balance int
	err := m.store.Transaction(ctx, func(tx *history.Store) error {
		latest, err := tx.Latest(ctx, key)
		if err != nil && !errors.Is(err, history.ErrNotFound) {
			return err
		}
		now := m.clock.Now()
		balance = m.effective(latest, now)
		return tx.Append(ctx, m.record(chatID, key, e, balance, now))
	})
	if err != nil {
		return 0, fmt.Errorf("log message for chat %s: %w", key, err)
	}
	return balance, nil
}

// Balance сообщает текущий остаток без записи в журнал. Если записей нет,
// возвращается NotFound с нулевым остатком.
func (m *Manager) Balance(ctx context.Context, chatID int64) (Result, error) {
	latest, err := m.store.Latest(ctx, obfuscate.EncodeID(chatID))
	if errors.Is(err, history.ErrNotFound) {
		return Result{Status: NotFound}, nil
	}
	if err != nil {
		return Result{}, err
	}

	remaining := m.effective(latest, m.clock.Now())
	if remaining <= 0 {
		return Result{Status: Denied, Remaining: 0}, nil
	}
	return Result{Status: Allowed, Remaining: remaining}, nil
}

// Consume списывает один токен и сразу записывает результат.
func (m *Manager) Consume(ctx context.Context, chatID int64, e Entry) (Result, error) {
	res, result, err := m.Reserve(ctx, chatID)
	if err != nil || res == nil {
		return result, err
	}
	if err := res.Commit(ctx, e); err != nil {
		return Result{}, err
	}
	return result, nil
}

// Reserve проверяет квоту и, если токен есть, удерживает его до Commit или
// Release. Пока резерв не закрыт, другие операции с квотой этого чата ждут.
// Для NotFound и Denied резерв не создаётся и ничего не записывается.
func (m *Manager) Reserve(ctx context.Context, chatID int64) (*Reservation, Result, error) {
	key := obfuscate.EncodeID(chatID)
	unlock := m.locks.Lock(key)

	latest, err := m.store.Latest(ctx, key)
	if errors.Is(err, history.ErrNotFound) {
		unlock()
		return nil, Result{Status: NotFound}, nil
	}
	if err != nil {
		unlock()
		return nil, Result{}, fmt.Errorf("reserve quota for chat %s: %w", key, err)
	}

	now := m.clock.Now()
	balance := m.effective(latest, now)
	if balance <= 0 {
		unlock()
		return nil, Result{Status: Denied}, nil
	}

	res := &Reservation{
		m:         m,
		chatID:    chatID,
		key:       key,
		baseID:    latest.ID,
		remaining: balance - 1,
		at:        now,
		unlock:    unlock,
	}
	return res, Result{Status: Allowed, Remaining: res.remaining}, nil
}

func (m *Manager) record(chatID int64, key string, e Entry, balance int, now time.Time) *database.History {
	return &database.History{
		ChatID:          key,
		Name:            e.Name,
		Number:          e.Number,
		Message:         obfuscate.Encode(e.Message, chatID),
		TokenCount:      balance,
		LastGeneratedAt: now,
	}
}

// Reservation — удержанный токен одного чата.
type Reservation struct {
	m         *Manager
	chatID    int64
	key       string
	baseID    uint
	remaining int
	// at — момент проверки квоты; им датируется запись списания, чтобы
	// остаток и дата записи относились к одним суткам.
	at        time.Time
	unlock    func()
	once      sync.Once
}

// Remaining — остаток после списания.
func (r *Reservation) Remaining() int { return r.remaining }

// Commit записывает списание с датой резервирования. Последняя запись чата
// должна остаться той же, что при резервировании, иначе возвращается
// ErrConflict.
func (r *Reservation) Commit(ctx context.Context, e Entry) error {
	var err error
	done := false
	r.once.Do(func() {
		done = true
		defer r.unlock()

		err = r.m.store.Transaction(ctx, func(tx *history.Store) error {
			latest, err := tx.Latest(ctx, r.key)
			if err != nil {
				return err
			}
			if latest.ID != r.baseID {
				return ErrConflict
			}
			return tx.Append(ctx, r.m.record(r.chatID, r.key, e, r.remaining, r.at))
		})
	})
	if !done {
		return errors.New("quota: reservation already closed")
	}
	if err != nil {
		return fmt.Errorf("commit quota for chat %s: %w", r.key, err)
	}
	return nil
}

// Release отказывается от резерва без записи.
func (r *Reservation) Release() {
	r.once.Do(r.unlock)
}
