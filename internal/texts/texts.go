// Package texts хранит пользовательские строки бота. Каталоги лежат в
// locales/<lang>.json и вшиты в бинарник.
package texts

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// DefaultLang — язык, на который откатываемся при отсутствии перевода.
const DefaultLang = "ru"

// Ключи строк.
const (
	Welcome          = "welcome"
	ChooseAction     = "choose_action"
	GeneratorMenu    = "generator_menu"
	Instructions     = "instructions"
	Describe         = "describe"
	Generating       = "generating"
	QuotaExhausted   = "quota_exhausted"
	GenerationFailed = "generation_failed"
	TokensLeft       = "tokens_left"
	HistoryHeader    = "history_header"
	HistoryLine      = "history_line"
	LowMonth         = "low_month"
	HighMonth        = "high_month"
	NoRequests       = "no_requests"
	Fallback         = "fallback"
	Apology          = "apology"

	BtnGenerate        = "btn_generate"
	BtnInfo            = "btn_info"
	BtnStartGeneration = "btn_start_generation"
	BtnTokens          = "btn_tokens"
	BtnBack            = "btn_back"
)

//go:embed locales/*.json
var locales embed.FS

type Catalog struct {
	translations map[string]map[string]string
}

// Load читает вшитые каталоги.
func Load() (*Catalog, error) {
	return LoadFS(locales, "locales")
}

// LoadFS читает все *.json из каталога dir; имя файла — код языка.
func LoadFS(fsys fs.FS, dir string) (*Catalog, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read locales directory: %w", err)
	}

	c := &Catalog{translations: make(map[string]map[string]string)}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read locale %s: %w", entry.Name(), err)
		}

		var strs map[string]string
		if err := json.Unmarshal(data, &strs); err != nil {
			return nil, fmt.Errorf("parse locale %s: %w", entry.Name(), err)
		}
		c.translations[strings.TrimSuffix(entry.Name(), ".json")] = strs
	}

	if _, ok := c.translations[DefaultLang]; !ok {
		return nil, fmt.Errorf("locale %q is missing", DefaultLang)
	}
	return c, nil
}

// Lang приводит тег языка отправителя ("ru-RU", "en") к языку каталога.
// Неизвестные языки сводятся к DefaultLang.
func (c *Catalog) Lang(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	if _, ok := c.translations[tag]; ok {
		return tag
	}
	return DefaultLang
}

// Get возвращает строку key на языке lang. Если перевода нет — строку
// DefaultLang, если нет и её — сам ключ.
func (c *Catalog) Get(lang, key string) string {
	if value, ok := c.translations[c.Lang(lang)][key]; ok {
		return value
	}
	if value, ok := c.translations[DefaultLang][key]; ok {
		return value
	}
	return key
}

func (c *Catalog) Format(lang, key string, args ...any) string {
	return fmt.Sprintf(c.Get(lang, key), args...)
}

// Labels возвращает значения key во всех языках без повторов. Нужен, чтобы
// кнопку узнавали независимо от языка, на котором её показали.
func (c *Catalog) Labels(key string) []string {
	seen := make(map[string]struct{})
	var labels []string
	for _, lang := range c.Languages() {
		value, ok := c.translations[lang][key]
		if !ok {
			continue
		}
		if _, dup := seen[value]; dup {
			continue
		}
		seen[value] = struct{}{}
		labels = append(labels, value)
	}
	return labels
}

// Languages — коды загруженных языков по алфавиту.
func (c *Catalog) Languages() []string {
	langs := make([]string, 0, len(c.translations))
	for lang := range c.translations {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}
