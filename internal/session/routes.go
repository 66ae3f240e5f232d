package session

import (
	"strings"

	"imagebot/internal/texts"
)

// Trigger — класс входящего текста: команда, кнопка или свободный текст.
type Trigger string

const (
	TriggerStart   Trigger = "/start"
	TriggerMenu    Trigger = "/menu"
	TriggerHistory Trigger = "/history"
	TriggerLow     Trigger = "/low"
	TriggerHigh    Trigger = "/high"
	TriggerTokens  Trigger = "/tokens"
	TriggerInfo    Trigger = "/info"

	TriggerGenerateButton Trigger = texts.BtnGenerate
	TriggerInfoButton     Trigger = texts.BtnInfo
	TriggerStartButton    Trigger = texts.BtnStartGeneration
	TriggerTokensButton   Trigger = texts.BtnTokens
	TriggerBackButton     Trigger = texts.BtnBack

	// TriggerUnknownCommand — текст со слэшем, которого нет в таблице.
	TriggerUnknownCommand Trigger = "command"
	TriggerText           Trigger = "text"
)

type Action int

const (
	ActionFallback Action = iota
	ActionMenu
	ActionInstructions
	ActionTokens
	ActionHistory
	ActionLow
	ActionHigh
	ActionOpenGenerator
	ActionStartGeneration
	ActionReturnToMenu
	ActionGenerate
)

var actionNames = map[Action]string{
	ActionFallback:        "fallback",
	ActionMenu:            "menu",
	ActionInstructions:    "instructions",
	ActionTokens:          "tokens",
	ActionHistory:         "history",
	ActionLow:             "low",
	ActionHigh:            "high",
	ActionOpenGenerator:   "open_generator",
	ActionStartGeneration: "start_generation",
	ActionReturnToMenu:    "return_to_menu",
	ActionGenerate:        "generate",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "unknown"
}

// Transition — что делать и в какое состояние перейти.
type Transition struct {
	Action Action
	Next   State
}

type routeKey struct {
	trigger Trigger
	state   State
}

// Table — таблица переходов (триггер, состояние) -> переход.
type Table map[routeKey]Transition

// Lookup возвращает переход для пары. Для пар, которых нет в таблице,
// отвечаем заглушкой и состояние не меняем.
func (t Table) Lookup(trigger Trigger, state State) Transition {
	if tr, ok := t[routeKey{trigger, state}]; ok {
		return tr
	}
	return Transition{Action: ActionFallback, Next: state}
}

// DefaultTable — таблица переходов бота.
func DefaultTable() Table {
	t := make(Table)

	// команды и кнопки без смены состояния
	stateless := map[Trigger]Action{
		TriggerStart:          ActionMenu,
		TriggerMenu:           ActionMenu,
		TriggerHistory:        ActionHistory,
		TriggerLow:            ActionLow,
		TriggerHigh:           ActionHigh,
		TriggerTokens:         ActionTokens,
		TriggerTokensButton:   ActionTokens,
		TriggerInfo:           ActionInstructions,
		TriggerInfoButton:     ActionInstructions,
		TriggerGenerateButton: ActionOpenGenerator,
		TriggerUnknownCommand: ActionFallback,
	}
	for trigger, action := range stateless {
		for _, state := range []State{Idle, AwaitingDescription} {
			t[routeKey{trigger, state}] = Transition{Action: action, Next: state}
		}
	}

	t[routeKey{TriggerStartButton, Idle}] = Transition{ActionStartGeneration, AwaitingDescription}
	t[routeKey{TriggerStartButton, AwaitingDescription}] = Transition{ActionStartGeneration, AwaitingDescription}

	t[routeKey{TriggerBackButton, Idle}] = Transition{ActionReturnToMenu, Idle}
	t[routeKey{TriggerBackButton, AwaitingDescription}] = Transition{ActionReturnToMenu, Idle}

	t[routeKey{TriggerText, Idle}] = Transition{ActionFallback, Idle}
	t[routeKey{TriggerText, AwaitingDescription}] = Transition{ActionGenerate, Idle}

	return t
}

// Classifier относит входящий текст к триггеру. Кнопки узнаются на любом
// языке из каталога.
type Classifier struct {
	commands map[string]Trigger
	labels   map[string]Trigger
}

func NewClassifier(catalog *texts.Catalog) *Classifier {
	c := &Classifier{
		commands: make(map[string]Trigger),
		labels:   make(map[string]Trigger),
	}
	for _, cmd := range []Trigger{
		TriggerStart, TriggerMenu, TriggerHistory, TriggerLow,
		TriggerHigh, TriggerTokens, TriggerInfo,
	} {
		c.commands[string(cmd)] = cmd
	}
	for _, btn := range []Trigger{
		TriggerGenerateButton, TriggerInfoButton, TriggerStartButton,
		TriggerTokensButton, TriggerBackButton,
	} {
		for _, label := range catalog.Labels(string(btn)) {
			c.labels[label] = btn
		}
	}
	return c
}

func (c *Classifier) Classify(text string) Trigger {
	text = strings.TrimSpace(text)
	if trigger, ok := c.labels[text]; ok {
		return trigger
	}
	if !strings.HasPrefix(text, "/") {
		return TriggerText
	}

	// "/history@bot_name аргументы" -> "/history"
	cmd := strings.Fields(text)[0]
	if i := strings.Index(cmd, "@"); i >= 0 {
		cmd = cmd[:i]
	}
	if trigger, ok := c.commands[strings.ToLower(cmd)]; ok {
		return trigger
	}
	return TriggerUnknownCommand
}
