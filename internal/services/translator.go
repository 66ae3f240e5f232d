package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

var languageNames = map[string]string{
	"en": "English",
	"ru": "Russian",
}

// TranslatorService переводит описания картинок через chat completions.
// Сервис генерации лучше понимает английские описания.
type TranslatorService struct {
	ai    *openai.Client
	model string
}

func NewTranslatorService(ai *openai.Client, model string) *TranslatorService {
	return &TranslatorService{
		ai:    ai,
		model: model,
	}
}

// Translate переводит text на язык target ("en", "ru").
func (s *TranslatorService) Translate(ctx context.Context, text, target string) (string, error) {
	lang, ok := languageNames[target]
	if !ok {
		lang = target
	}

	systemPrompt := fmt.Sprintf(`Ты переводчик описаний для генератора изображений.
Переведи сообщение пользователя на %s язык.
Ответь только переводом, без кавычек и пояснений. Ничего не добавляй от себя.`, lang)

	resp, err := s.ai.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: s.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: systemPrompt,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: text,
				},
			},
			MaxTokens:   300,
			Temperature: 0,
		},
	)
	if err != nil {
		return "", fmt.Errorf("translate: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("пустой ответ от AI")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// NoopTranslator возвращает текст как есть. Используется без ключа OpenAI.
type NoopTranslator struct{}

func (NoopTranslator) Translate(_ context.Context, text, _ string) (string, error) {
	return text, nil
}
