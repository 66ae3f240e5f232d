// Package history хранит журнал обращений пользователей и отвечает на
// агрегирующие запросы по нему: последние сообщения, количество запросов
// по месяцам.
package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"imagebot/internal/database"

	"gorm.io/gorm"
)

// ErrNotFound — у чата ещё нет ни одной записи.
var ErrNotFound = errors.New("history record not found")

// Store — журнал поверх gorm. Записи только добавляются.
type Store struct {
	db  *gorm.DB
	loc *time.Location
}

// NewStore создаёт хранилище; loc задаёт часовой пояс, в котором считаются
// месяцы для MonthlyCounts.
func NewStore(db *gorm.DB, loc *time.Location) *Store {
	if loc == nil {
		loc = time.Local
	}
	return &Store{db: db, loc: loc}
}

// Transaction выполняет fn в одной транзакции. Store, переданный в fn,
// работает внутри неё.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, loc: s.loc})
	})
}

// Append добавляет запись. ID назначает база; время сохраняется в UTC,
// чтобы сортировка по last_generated_at не зависела от смещения.
func (s *Store) Append(ctx context.Context, rec *database.History) error {
	if rec.ID != 0 {
		return fmt.Errorf("append history: record already has id %d", rec.ID)
	}
	rec.LastGeneratedAt = rec.LastGeneratedAt.UTC()
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("append history for chat %s: %w", rec.ChatID, err)
	}
	return nil
}

// Latest возвращает последнюю добавленную запись чата или ErrNotFound.
func (s *Store) Latest(ctx context.Context, chatID string) (*database.History, error) {
	var rec database.History
	err := s.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("id DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest history for chat %s: %w", chatID, err)
	}
	return &rec, nil
}

// Recent возвращает до limit записей чата, сообщение которых не начинается
// с excludePrefix, от новых к старым.
func (s *Store) Recent(ctx context.Context, chatID string, limit int, excludePrefix string) ([]database.History, error) {
	var records []database.History
	err := s.filtered(ctx, chatID, excludePrefix).
		Order("last_generated_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("recent history for chat %s: %w", chatID, err)
	}
	return records, nil
}

// MonthlyCounts считает записи чата (кроме начинающихся с excludePrefix)
// по месяцам last_generated_at.
func (s *Store) MonthlyCounts(ctx context.Context, chatID, excludePrefix string) (MonthlyCounts, error) {
	var rows []database.History
	err := s.filtered(ctx, chatID, excludePrefix).
		Select("last_generated_at").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("monthly counts for chat %s: %w", chatID, err)
	}

	byMonth := make(map[string]int)
	for _, r := range rows {
		byMonth[r.LastGeneratedAt.In(s.loc).Format(MonthLayout)]++
	}

	counts := make(MonthlyCounts, 0, len(byMonth))
	for month, n := range byMonth {
		counts = append(counts, MonthCount{Month: month, Count: n})
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].Month < counts[j].Month })
	return counts, nil
}

func (s *Store) filtered(ctx context.Context, chatID, excludePrefix string) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&database.History{}).Where("chat_id = ?", chatID)
	if excludePrefix != "" {
		q = q.Where(`message NOT LIKE ? ESCAPE '\'`, escapeLike(excludePrefix)+"%")
	}
	return q
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
