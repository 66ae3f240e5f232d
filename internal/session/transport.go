package session

import "context"

// Message — входящее текстовое сообщение.
type Message struct {
	ChatID int64
	Name   string
	// Number — номер сообщения в чате.
	Number string
	Text   string
	Lang   string
}

// MessageRef указывает на отправленное сообщение, чтобы его можно было удалить.
type MessageRef struct {
	ChatID int64
	ID     int
}

// Keyboard — ряды подписей кнопок.
type Keyboard [][]string

// Transport — исходящие операции мессенджера.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string) (MessageRef, error)
	SendImage(ctx context.Context, chatID int64, image []byte) error
	Delete(ctx context.Context, ref MessageRef) error
	SendKeyboard(ctx context.Context, chatID int64, text string, kb Keyboard) error
}

// ImageGenerator рисует картинки по описанию.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) ([][]byte, error)
}

// Translator переводит описание на язык target.
type Translator interface {
	Translate(ctx context.Context, text, target string) (string, error)
}
