package database

import (
	"time"
)

// History — одна запись журнала обращений пользователя. Таблица только
// пополняется: строки не обновляются и не удаляются.
//
// ChatID и Message хранятся закодированными (см. пакет obfuscate).
// TokenCount — остаток квоты чата на момент записи. Значения по умолчанию
// задаются кодом при вставке: gorm пропускает нулевые поля с тегом default,
// а ноль токенов — законное значение.
type History struct {
	ID              uint      `gorm:"primaryKey;autoIncrement"`
	ChatID          string    `gorm:"type:text;not null;index:idx_history_chat_time,priority:1"`
	Name            string    `gorm:"type:text"`
	Number          string    `gorm:"type:text"`
	Message         string    `gorm:"type:text"`
	TokenCount      int       `gorm:"not null"`
	LastGeneratedAt time.Time `gorm:"not null;index:idx_history_chat_time,priority:2"`
}

func (History) TableName() string {
	return "history"
}
