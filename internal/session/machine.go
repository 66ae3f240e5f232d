// Package session ведёт диалог с пользователем: определяет, что пришло —
// команда, кнопка или описание картинки, — и выполняет нужное действие.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"imagebot/internal/history"
	"imagebot/internal/logging"
	"imagebot/internal/obfuscate"
	"imagebot/internal/quota"
	"imagebot/internal/texts"

	"github.com/sirupsen/logrus"
)

const (
	// HistoryLimit — сколько сообщений показывает /history.
	HistoryLimit = 10
	// CommandPrefix отличает команды от запросов в истории и статистике.
	CommandPrefix = "/"
	// DefaultGenerationTimeout ограничивает ожидание сервиса картинок.
	DefaultGenerationTimeout = 90 * time.Second
)

// Deps — зависимости Machine.
type Deps struct {
	Quota      *quota.Manager
	History    *history.Store
	States     StateStore
	Transport  Transport
	Images     ImageGenerator
	Translator Translator
	Texts      *texts.Catalog
	Log        logrus.FieldLogger
	// GenerationTimeout по умолчанию DefaultGenerationTimeout.
	GenerationTimeout time.Duration
}

type Machine struct {
	quota      *quota.Manager
	history    *history.Store
	states     StateStore
	transport  Transport
	images     ImageGenerator
	translator Translator
	texts      *texts.Catalog
	routes     Table
	classifier *Classifier
	log        logrus.FieldLogger
	timeout    time.Duration
}

func New(d Deps) *Machine {
	timeout := d.GenerationTimeout
	if timeout <= 0 {
		timeout = DefaultGenerationTimeout
	}
	return &Machine{
		quota:      d.Quota,
		history:    d.History,
		states:     d.States,
		transport:  d.Transport,
		images:     d.Images,
		translator: d.Translator,
		texts:      d.Texts,
		routes:     DefaultTable(),
		classifier: NewClassifier(d.Texts),
		log:        d.Log,
		timeout:    timeout,
	}
}

func (m *Machine) logger(ctx context.Context) logrus.FieldLogger {
	return logging.FromContext(ctx, m.log)
}

// Handle обрабатывает одно входящее сообщение. Сообщения одного чата
// должны подаваться по очереди.
func (m *Machine) Handle(ctx context.Context, msg Message) error {
	log := m.logger(ctx)

	// каждое входящее сообщение пишется в историю; ошибка записи не мешает ответу
	if _, err := m.quota.Log(ctx, msg.ChatID, m.entry(msg)); err != nil {
		log.WithError(err).Error("Не удалось записать сообщение в историю")
	}

	state, err := m.states.Get(ctx, msg.ChatID)
	if err != nil {
		log.WithError(err).Warn("Не удалось прочитать состояние диалога, считаем его Idle")
		state = Idle
	}

	trigger := m.classifier.Classify(msg.Text)
	tr := m.routes.Lookup(trigger, state)
	log.WithFields(logrus.Fields{
		"trigger": trigger,
		"state":   state,
		"action":  tr.Action,
		"next":    tr.Next,
	}).Debug("Переход диалога")

	// состояние меняется до действия: после генерации чат всегда в Idle,
	// даже если она упала
	if tr.Next != state {
		if err := m.states.Set(ctx, msg.ChatID, tr.Next); err != nil {
			return fmt.Errorf("set session state: %w", err)
		}
	}

	return m.run(ctx, tr.Action, msg)
}

func (m *Machine) run(ctx context.Context, action Action, msg Message) error {
	switch action {
	case ActionMenu:
		return m.sendWelcome(ctx, msg)
	case ActionInstructions:
		return m.sendKeyboard(ctx, msg, texts.Instructions, m.backKeyboard(msg.Lang))
	case ActionTokens:
		return m.sendTokens(ctx, msg)
	case ActionHistory:
		return m.sendHistory(ctx, msg)
	case ActionLow:
		return m.sendMonth(ctx, msg, false)
	case ActionHigh:
		return m.sendMonth(ctx, msg, true)
	case ActionOpenGenerator:
		return m.sendKeyboard(ctx, msg, texts.GeneratorMenu, m.generatorKeyboard(msg.Lang))
	case ActionStartGeneration:
		return m.sendKeyboard(ctx, msg, texts.Describe, m.backKeyboard(msg.Lang))
	case ActionReturnToMenu:
		return m.sendMainMenu(ctx, msg)
	case ActionGenerate:
		return m.generate(ctx, msg)
	default:
		return m.sendText(ctx, msg, m.texts.Get(msg.Lang, texts.Fallback))
	}
}

// Apologize отправляет общее извинение после необработанной ошибки.
func (m *Machine) Apologize(ctx context.Context, msg Message) {
	if _, err := m.transport.SendText(ctx, msg.ChatID, m.texts.Get(msg.Lang, texts.Apology)); err != nil {
		m.logger(ctx).WithError(err).Warn("Не удалось отправить извинение")
	}
}

func (m *Machine) entry(msg Message) quota.Entry {
	return quota.Entry{Name: msg.Name, Number: msg.Number, Message: msg.Text}
}

func (m *Machine) sendText(ctx context.Context, msg Message, text string) error {
	_, err := m.transport.SendText(ctx, msg.ChatID, text)
	return err
}

func (m *Machine) sendKeyboard(ctx context.Context, msg Message, key string, kb Keyboard) error {
	return m.transport.SendKeyboard(ctx, msg.ChatID, m.texts.Get(msg.Lang, key), kb)
}

func (m *Machine) mainKeyboard(lang string) Keyboard {
	return Keyboard{
		{m.texts.Get(lang, texts.BtnGenerate)},
		{m.texts.Get(lang, texts.BtnInfo)},
	}
}

func (m *Machine) generatorKeyboard(lang string) Keyboard {
	return Keyboard{
		{m.texts.Get(lang, texts.BtnStartGeneration), m.texts.Get(lang, texts.BtnTokens)},
		{m.texts.Get(lang, texts.BtnBack)},
	}
}

func (m *Machine) backKeyboard(lang string) Keyboard {
	return Keyboard{{m.texts.Get(lang, texts.BtnBack)}}
}

func (m *Machine) sendMainMenu(ctx context.Context, msg Message) error {
	return m.sendKeyboard(ctx, msg, texts.ChooseAction, m.mainKeyboard(msg.Lang))
}

func (m *Machine) sendWelcome(ctx context.Context, msg Message) error {
	if err := m.sendText(ctx, msg, m.texts.Format(msg.Lang, texts.Welcome, msg.Name)); err != nil {
		return err
	}
	return m.sendMainMenu(ctx, msg)
}

func (m *Machine) sendTokens(ctx context.Context, msg Message) error {
	res, err := m.quota.Balance(ctx, msg.ChatID)
	if err != nil {
		return fmt.Errorf("read balance: %w", err)
	}
	// без записей в журнале остаток считается нулевым
	return m.sendText(ctx, msg, m.texts.Format(msg.Lang, texts.TokensLeft, res.Remaining))
}

func (m *Machine) sendHistory(ctx context.Context, msg Message) error {
	records, err := m.history.Recent(ctx, obfuscate.EncodeID(msg.ChatID), HistoryLimit, CommandPrefix)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}

	var b strings.Builder
	b.WriteString(m.texts.Format(msg.Lang, texts.HistoryHeader, msg.Name))
	for _, rec := range records {
		b.WriteByte('\n')
		b.WriteString(m.texts.Format(msg.Lang, texts.HistoryLine, obfuscate.Decode(rec.Message, msg.ChatID)))
	}
	return m.sendText(ctx, msg, b.String())
}

func (m *Machine) sendMonth(ctx context.Context, msg Message, highest bool) error {
	counts, err := m.history.MonthlyCounts(ctx, obfuscate.EncodeID(msg.ChatID), CommandPrefix)
	if err != nil {
		return fmt.Errorf("read monthly counts: %w", err)
	}

	pick, key := counts.Lowest, texts.LowMonth
	if highest {
		pick, key = counts.Highest, texts.HighMonth
	}
	month, ok := pick()
	if !ok {
		return m.sendText(ctx, msg, m.texts.Get(msg.Lang, texts.NoRequests))
	}
	return m.sendText(ctx, msg, m.texts.Format(msg.Lang, key, month.Month, month.Count))
}

// generate списывает токен, рисует картинки и отправляет их. Токен
// списывается только если картинки доставлены.
func (m *Machine) generate(ctx context.Context, msg Message) error {
	log := m.logger(ctx)

	res, result, err := m.quota.Reserve(ctx, msg.ChatID)
	if err != nil {
		return fmt.Errorf("reserve quota: %w", err)
	}
	if result.Status != quota.Allowed {
		log.WithField("status", result.Status).Info("Токены закончились")
		return m.sendText(ctx, msg, m.texts.Get(msg.Lang, texts.QuotaExhausted))
	}
	defer res.Release()

	prompt := m.prompt(ctx, msg)

	progress, err := m.transport.SendText(ctx, msg.ChatID, m.texts.Get(msg.Lang, texts.Generating))
	if err != nil {
		log.WithError(err).Warn("Не удалось отправить сообщение о генерации")
	}

	images, err := m.draw(ctx, prompt)
	if err == nil {
		err = m.deliver(ctx, msg.ChatID, images)
	}
	m.dropProgress(ctx, progress)
	if err != nil {
		log.WithError(err).WithField("prompt", prompt).Error("Ошибка при генерации изображения")
		return m.sendKeyboard(ctx, msg, texts.GenerationFailed, m.mainKeyboard(msg.Lang))
	}

	if err := res.Commit(ctx, m.entry(msg)); err != nil {
		log.WithError(err).Error("Не удалось записать списание токена")
	} else {
		log.WithField("remaining", res.Remaining()).Info("Изображение отправлено")
	}
	return m.sendMainMenu(ctx, msg)
}

func (m *Machine) draw(ctx context.Context, prompt string) ([][]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	images, err := m.images.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, errors.New("image service returned no artifacts")
	}
	return images, nil
}

func (m *Machine) deliver(ctx context.Context, chatID int64, images [][]byte) error {
	for i, img := range images {
		if err := m.transport.SendImage(ctx, chatID, img); err != nil {
			return fmt.Errorf("send image %d: %w", i, err)
		}
	}
	return nil
}

func (m *Machine) dropProgress(ctx context.Context, ref MessageRef) {
	if ref.ID == 0 {
		return
	}
	if err := m.transport.Delete(ctx, ref); err != nil {
		m.logger(ctx).WithError(err).Warn("Не удалось удалить сообщение о генерации")
	}
}

// prompt переводит русское описание на английский. При ошибке перевода
// используется исходный текст.
func (m *Machine) prompt(ctx context.Context, msg Message) string {
	if m.translator == nil || !strings.HasPrefix(strings.ToLower(msg.Lang), "ru") {
		return msg.Text
	}

	translated, err := m.translator.Translate(ctx, msg.Text, "en")
	if err != nil {
		m.logger(ctx).WithError(err).Warn("Не удалось перевести описание")
		return msg.Text
	}
	if strings.TrimSpace(translated) == "" {
		return msg.Text
	}
	return translated
}
