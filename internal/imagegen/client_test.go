package imagegen

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(generateResponse{Artifacts: []artifact{
			{Base64: base64.StdEncoding.EncodeToString([]byte("png-1")), FinishReason: "SUCCESS"},
			{Base64: base64.StdEncoding.EncodeToString([]byte("png-2")), FinishReason: "SUCCESS"},
		}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", DefaultParams(), 0, srv.Client())
	images, err := c.Generate(context.Background(), "a cat in boots")
	require.NoError(t, err)

	assert.Equal(t, [][]byte{[]byte("png-1"), []byte("png-2")}, images)
	assert.Equal(t, generateRequest{
		Steps:       40,
		Width:       1024,
		Height:      1024,
		Seed:        0,
		CFGScale:    5,
		Samples:     1,
		TextPrompts: []textPrompt{{Text: "a cat in boots", Weight: 1}},
	}, got)
}

func TestGenerateNon2xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"message":"invalid prompt"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", DefaultParams(), 0, srv.Client())
	_, err := c.Generate(context.Background(), "x")

	require.ErrorIs(t, err, ErrGenerationFailed)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int32(1), calls.Load(), "no retries")
}

func TestGenerateBadArtifact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"artifacts":[{"base64":"%%%"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", DefaultParams(), 0, srv.Client())
	_, err := c.Generate(context.Background(), "x")
	assert.ErrorIs(t, err, ErrGenerationFailed)
}

func TestGenerateRespectsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", DefaultParams(), 0, srv.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Generate(ctx, "x")
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestGenerateUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, "secret", DefaultParams(), 0, nil)
	_, err := c.Generate(context.Background(), "x")
	assert.ErrorIs(t, err, ErrGenerationFailed)
}

func TestRateLimiterHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"artifacts":[]}`))
	}))
	defer srv.Close()

	// один запрос в минуту: второй не дождётся токена до дедлайна
	c := NewClient(srv.URL, "secret", DefaultParams(), 1.0/60, srv.Client())
	_, err := c.Generate(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Generate(ctx, "second")
	assert.ErrorIs(t, err, ErrGenerationFailed)
}
