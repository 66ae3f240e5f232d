package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	SessionMemory = "memory"
	SessionRedis  = "redis"
)

type Config struct {
	TelegramToken string

	StabilityAIToken string
	StabilityAIURL   string
	ImageSteps       int
	ImageWidth       int
	ImageHeight      int
	ImageSeed        int64
	ImageCFGScale    float64
	ImageSamples     int

	GenerationTimeout time.Duration
	GenerationRPS     float64

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	DatabasePath string
	DatabaseURL  string

	SessionBackend string
	RedisURL       string

	QuotaTimezone string

	Port     string
	LogFile  string
	LogLevel string
}

// LoadDotEnv подхватывает .env из рабочего каталога. Отсутствие файла не
// ошибка: переменные могут прийти из окружения.
func LoadDotEnv(files ...string) error {
	err := godotenv.Load(files...)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func Load() *Config {
	return &Config{
		TelegramToken: getEnv("TELEGRAM_BOT_TOKEN", getEnv("BOT_TOKEN", "")),

		StabilityAIToken: getEnv("STABILITY_AI_TOKEN", ""),
		StabilityAIURL:   getEnv("STABILITY_AI_URL", ""),
		ImageSteps:       getInt("IMAGE_STEPS", 40),
		ImageWidth:       getInt("IMAGE_WIDTH", 1024),
		ImageHeight:      getInt("IMAGE_HEIGHT", 1024),
		ImageSeed:        int64(getInt("IMAGE_SEED", 0)),
		ImageCFGScale:    getFloat("IMAGE_CFG_SCALE", 5),
		ImageSamples:     getInt("IMAGE_SAMPLES", 1),

		GenerationTimeout: getDuration("GENERATION_TIMEOUT", 90*time.Second),
		GenerationRPS:     getFloat("GENERATION_RPS", 1),

		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),

		DatabasePath: getEnv("DATABASE_PATH", "./imagebot.db"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),

		SessionBackend: strings.ToLower(getEnv("SESSION_BACKEND", SessionMemory)),
		RedisURL:       getEnv("REDIS_URL", ""),

		QuotaTimezone: getEnv("QUOTA_TIMEZONE", ""),

		Port:     getEnv("PORT", "8080"),
		LogFile:  getEnv("LOG_FILE", "error.log"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Validate проверяет обязательные параметры и их сочетания.
func (c *Config) Validate() error {
	var errs []error
	if c.TelegramToken == "" {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN is required"))
	}
	if c.StabilityAIToken == "" {
		errs = append(errs, errors.New("STABILITY_AI_TOKEN is required"))
	}
	if c.StabilityAIURL == "" {
		errs = append(errs, errors.New("STABILITY_AI_URL is required"))
	}
	switch c.SessionBackend {
	case SessionMemory:
	case SessionRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for SESSION_BACKEND=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SESSION_BACKEND %q", c.SessionBackend))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Location — часовой пояс, в котором считается смена суток для квоты.
func (c *Config) Location() (*time.Location, error) {
	if c.QuotaTimezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.QuotaTimezone)
	if err != nil {
		return nil, fmt.Errorf("QUOTA_TIMEZONE: %w", err)
	}
	return loc, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if str := getEnv(key, ""); str != "" {
		if parsed, err := strconv.Atoi(str); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if str := getEnv(key, ""); str != "" {
		if parsed, err := strconv.ParseFloat(str, 64); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if str := getEnv(key, ""); str != "" {
		if parsed, err := time.ParseDuration(str); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}
