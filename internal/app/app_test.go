package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/crawlbridge/internal/config"
)

func memoryConfig() config.Config {
	var cfg config.Config
	cfg.Server.Port = 8080
	cfg.Webhook.Secret = "test-secret"
	cfg.Webhook.DispatchTimeoutSec = 5
	cfg.DB.Provider = "memory"
	cfg.Queue.Provider = "memory"
	cfg.Queue.Depth = 16
	cfg.Vector.Provider = "memory"
	cfg.Indexer.Workers = 1
	cfg.Indexer.MaxAttempts = 2
	cfg.Indexer.ChunkTokens = 64
	return cfg
}

func TestNew_MemoryProviders(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), memoryConfig(), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Registry)
	require.NotNil(t, a.Contents)
	require.NotNil(t, a.Queue)
	require.NotNil(t, a.Workers)
	require.NotNil(t, a.Webhook)

	rec := httptest.NewRecorder()
	a.Server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	a.Server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestNew_UnknownProviders(t *testing.T) {
	t.Parallel()

	cfg := memoryConfig()
	cfg.DB.Provider = "dynamo"
	_, err := New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)

	cfg = memoryConfig()
	cfg.Queue.Provider = "sqs"
	_, err = New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)

	cfg = memoryConfig()
	cfg.Vector.Provider = "pinecone"
	_, err = New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

func TestNew_PostgresQueueRequiresPostgresDB(t *testing.T) {
	t.Parallel()

	cfg := memoryConfig()
	cfg.Queue.Provider = "postgres"
	_, err := New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}
