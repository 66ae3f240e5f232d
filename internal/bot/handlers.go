package bot

import (
	"strconv"

	"imagebot/internal/session"
	"imagebot/internal/utils"

	"gopkg.in/telebot.v3"
)

// RegisterHandlers подключает обработчики. Команды отдельно не
// регистрируются: telebot передаёт их в OnText, а разбор делает сессия.
func (b *Bot) RegisterHandlers() {
	b.telebot.Handle(telebot.OnText, b.HandleText)
}

// HandleText ставит текстовое сообщение в очередь его чата
func (b *Bot) HandleText(c telebot.Context) error {
	m := c.Message()
	if m == nil || m.Text == "" {
		return nil
	}

	msg := session.Message{
		ChatID: c.Chat().ID,
		Name:   utils.GetUserDisplayName(c.Sender()),
		Number: strconv.Itoa(m.ID),
		Text:   m.Text,
	}
	if sender := c.Sender(); sender != nil {
		msg.Lang = sender.LanguageCode
	}

	if err := b.dispatcher.Submit(msg); err != nil {
		b.log.WithError(err).Warn("Сообщение не принято в обработку")
	}
	return nil
}
