// Package imagegen — клиент HTTP API генерации изображений по тексту.
package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/time/rate"
)

// ErrGenerationFailed — сервис ответил ошибкой или недоступен.
var ErrGenerationFailed = errors.New("image generation failed")

// Params — параметры генерации, общие для всех запросов.
type Params struct {
	Steps    int
	Width    int
	Height   int
	Seed     int64
	CFGScale float64
	Samples  int
}

func DefaultParams() Params {
	return Params{
		Steps:    40,
		Width:    1024,
		Height:   1024,
		Seed:     0,
		CFGScale: 5,
		Samples:  1,
	}
}

type textPrompt struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
}

type generateRequest struct {
	Steps       int          `json:"steps"`
	Width       int          `json:"width"`
	Height      int          `json:"height"`
	Seed        int64        `json:"seed"`
	CFGScale    float64      `json:"cfg_scale"`
	Samples     int          `json:"samples"`
	TextPrompts []textPrompt `json:"text_prompts"`
}

type artifact struct {
	Base64       string `json:"base64"`
	Seed         int64  `json:"seed"`
	FinishReason string `json:"finishReason"`
}

type generateResponse struct {
	Artifacts []artifact `json:"artifacts"`
}

type Client struct {
	url        string
	token      string
	params     Params
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient создаёт клиент. rps ограничивает частоту исходящих запросов,
// rps <= 0 снимает ограничение. httpClient может быть nil.
func NewClient(url, token string, params Params, rps float64, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Client{
		url:        url,
		token:      token,
		params:     params,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, 1),
	}
}

// Generate отправляет описание и возвращает декодированные картинки.
// Повторов нет: любой ответ кроме 2xx — ErrGenerationFailed.
func (c *Client) Generate(ctx context.Context, prompt string) ([][]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit: %v", ErrGenerationFailed, err)
	}

	body, err := json.Marshal(generateRequest{
		Steps:       c.params.Steps,
		Width:       c.params.Width,
		Height:      c.params.Height,
		Seed:        c.params.Seed,
		CFGScale:    c.params.CFGScale,
		Samples:     c.params.Samples,
		TextPrompts: []textPrompt{{Text: prompt, Weight: 1}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrGenerationFailed, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrGenerationFailed, err)
	}

	images := make([][]byte, 0, len(out.Artifacts))
	for i, a := range out.Artifacts {
		img, err := base64.StdEncoding.DecodeString(a.Base64)
		if err != nil {
			return nil, fmt.Errorf("%w: artifact %d: %v", ErrGenerationFailed, i, err)
		}
		images = append(images, img)
	}
	return images, nil
}
