// Package logging настраивает logrus для бота: текст в stdout и отдельный
// файл только для ошибок.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// New создаёт логгер уровня level. Если file не пуст, записи уровня error и
// выше дополнительно пишутся в этот файл. Закрывать файл должен вызывающий
// через возвращённый io.Closer.
func New(level, file string) (*logrus.Logger, io.Closer, error) {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	log.SetLevel(lvl)

	if file == "" {
		return log, io.NopCloser(nil), nil
	}

	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %s: %w", file, err)
	}
	log.AddHook(NewErrorHook(f))
	return log, f, nil
}

// ErrorHook дублирует записи уровня error и выше в отдельный writer.
type ErrorHook struct {
	mu        sync.Mutex
	out       io.Writer
	formatter logrus.Formatter
}

func NewErrorHook(out io.Writer) *ErrorHook {
	return &ErrorHook{
		out:       out,
		formatter: &logrus.TextFormatter{DisableColors: true, FullTimestamp: true},
	}
}

func (h *ErrorHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel}
}

func (h *ErrorHook) Fire(entry *logrus.Entry) error {
	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.out.Write(line)
	return err
}

type ctxKey struct{}

// WithLogger кладёт логгер в контекст обработки одного обновления.
func WithLogger(ctx context.Context, log logrus.FieldLogger) context.Context {
	return context.WithValue(ctx, ctxKey{}, log)
}

// FromContext достаёт логгер из контекста, иначе возвращает fallback.
func FromContext(ctx context.Context, fallback logrus.FieldLogger) logrus.FieldLogger {
	if log, ok := ctx.Value(ctxKey{}).(logrus.FieldLogger); ok {
		return log
	}
	return fallback
}
