// Package server — HTTP сервер проверки здоровья бота.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Check проверяет одну зависимость (БД, Redis).
type Check func(ctx context.Context) error

type Server struct {
	http   *http.Server
	checks map[string]Check
	log    logrus.FieldLogger
}

func New(port string, checks map[string]Check, log logrus.FieldLogger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{checks: checks, log: log}
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", s.health)

	s.http = &http.Server{
		Addr:           ":" + port,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.log.WithError(err).WithField("check", name).Warn("Проверка здоровья не прошла")
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "failed": failed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Run слушает порт до отмены ctx, затем аккуратно останавливает сервер.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("Health сервер запущен на %s", s.http.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}
