package utils

import (
	"strings"

	"gopkg.in/telebot.v3"
)

// GetUserDisplayName возвращает FirstName если он есть, иначе Username
func GetUserDisplayName(user *telebot.User) string {
	if user == nil {
		return "Аноним"
	}
	if name := strings.TrimSpace(user.FirstName); name != "" {
		return name
	}
	if user.Username != "" {
		return user.Username
	}
	return "Аноним"
}

// ReplyKeyboard собирает клавиатуру из рядов подписей
func ReplyKeyboard(rows [][]string) *telebot.ReplyMarkup {
	markup := &telebot.ReplyMarkup{ResizeKeyboard: true}

	keyboard := make([]telebot.Row, 0, len(rows))
	for _, labels := range rows {
		row := make(telebot.Row, 0, len(labels))
		for _, label := range labels {
			row = append(row, markup.Text(label))
		}
		keyboard = append(keyboard, row)
	}
	markup.Reply(keyboard...)
	return markup
}
