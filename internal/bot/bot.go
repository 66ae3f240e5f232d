package bot

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"imagebot/internal/session"
	"imagebot/internal/utils"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// Submitter принимает входящие сообщения в обработку.
type Submitter interface {
	Submit(msg session.Message) error
}

// Bot связывает Telegram с ботом: отдаёт входящие сообщения диспетчеру и
// реализует исходящие операции session.Transport.
type Bot struct {
	telebot    *telebot.Bot
	dispatcher Submitter
	log        logrus.FieldLogger
}

// NewSettings — настройки telebot для бота. Обработчики вызываются
// синхронно в порядке прихода обновлений: HandleText только ставит
// сообщение в очередь, а параллельность по чатам даёт диспетчер.
func NewSettings(token string, log logrus.FieldLogger) telebot.Settings {
	return telebot.Settings{
		Token:       token,
		Poller:      &telebot.LongPoller{Timeout: 10 * time.Second},
		Synchronous: true,
		OnError: func(err error, c telebot.Context) {
			log.WithError(err).Error("Ошибка Telegram")
		},
	}
}

// New создает новый экземпляр бота. Диспетчер задаётся позже через
// SetDispatcher: он сам зависит от Bot как от транспорта.
func New(tgBot *telebot.Bot, log logrus.FieldLogger) *Bot {
	return &Bot{
		telebot: tgBot,
		log:     log,
	}
}

func (b *Bot) SetDispatcher(d Submitter) {
	b.dispatcher = d
}

// SendText отправляет текст и возвращает ссылку на сообщение
func (b *Bot) SendText(ctx context.Context, chatID int64, text string) (session.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return session.MessageRef{}, err
	}

	msg, err := b.telebot.Send(telebot.ChatID(chatID), text)
	if err != nil {
		return session.MessageRef{}, fmt.Errorf("send message: %w", err)
	}
	return session.MessageRef{ChatID: chatID, ID: msg.ID}, nil
}

// SendImage отправляет картинку как фото
func (b *Bot) SendImage(ctx context.Context, chatID int64, image []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	photo := &telebot.Photo{File: telebot.FromReader(bytes.NewReader(image))}
	if _, err := b.telebot.Send(telebot.ChatID(chatID), photo); err != nil {
		return fmt.Errorf("send photo: %w", err)
	}
	return nil
}

// Delete удаляет ранее отправленное сообщение
func (b *Bot) Delete(ctx context.Context, ref session.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stored := &telebot.StoredMessage{MessageID: strconv.Itoa(ref.ID), ChatID: ref.ChatID}
	if err := b.telebot.Delete(stored); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// SendKeyboard отправляет текст с клавиатурой
func (b *Bot) SendKeyboard(ctx context.Context, chatID int64, text string, kb session.Keyboard) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := b.telebot.Send(telebot.ChatID(chatID), text, utils.ReplyKeyboard(kb)); err != nil {
		return fmt.Errorf("send keyboard: %w", err)
	}
	return nil
}

// Run принимает обновления до отмены ctx
func (b *Bot) Run(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.telebot.Start()
	}()

	b.log.Infof("Бот запущен! Username: @%s", b.telebot.Me.Username)
	<-ctx.Done()
	b.telebot.Stop()
	<-done
	return nil
}
