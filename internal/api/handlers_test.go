package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/maltedev/catalog-ingest/internal/catalog"
	"github.com/maltedev/catalog-ingest/internal/ingest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Trigger(ctx context.Context, force bool) (<-chan error, error) {
	args := m.Called(ctx, force)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(<-chan error), args.Error(1)
}

type MockStats struct {
	mock.Mock
}

func (m *MockStats) Stats(ctx context.Context) (*catalog.Stats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*catalog.Stats), args.Error(1)
}

type MockOutbox struct {
	mock.Mock
}

func (m *MockOutbox) PendingCount(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockOutbox) DeadLetterCount(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func serve(t *testing.T, h *Handlers, method, target string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	NewRouter(h, RouterConfig{}).ServeHTTP(rec, httptest.NewRequest(method, target, nil))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func started() <-chan error {
	ch := make(chan error, 1)
	ch <- nil
	return ch
}

func TestTriggerRun(t *testing.T) {
	t.Run("started", func(t *testing.T) {
		runner := new(MockRunner)
		runner.On("Trigger", mock.Anything, false).Return(started(), nil)

		rec, body := serve(t, NewHandlers(runner, new(MockStats), nil, testLogger()), http.MethodPost, "/api/v1/ingest/runs")

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "started", body["status"])
		runner.AssertExpectations(t)
	})

	t.Run("force bypasses staleness", func(t *testing.T) {
		runner := new(MockRunner)
		runner.On("Trigger", mock.Anything, true).Return(started(), nil)

		rec, _ := serve(t, NewHandlers(runner, new(MockStats), nil, testLogger()), http.MethodPost, "/api/v1/ingest/runs?force=true")

		assert.Equal(t, http.StatusAccepted, rec.Code)
		runner.AssertExpectations(t)
	})

	t.Run("fresh catalog", func(t *testing.T) {
		runner := new(MockRunner)
		runner.On("Trigger", mock.Anything, false).Return(nil, nil)

		rec, body := serve(t, NewHandlers(runner, new(MockStats), nil, testLogger()), http.MethodPost, "/api/v1/ingest/runs")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "fresh", body["status"])
	})

	t.Run("run in progress", func(t *testing.T) {
		runner := new(MockRunner)
		runner.On("Trigger", mock.Anything, false).Return(nil, ingest.ErrRunInProgress)

		rec, _ := serve(t, NewHandlers(runner, new(MockStats), nil, testLogger()), http.MethodPost, "/api/v1/ingest/runs")

		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("store failure", func(t *testing.T) {
		runner := new(MockRunner)
		runner.On("Trigger", mock.Anything, false).Return(nil, errors.New("db down"))

		rec, body := serve(t, NewHandlers(runner, new(MockStats), nil, testLogger()), http.MethodPost, "/api/v1/ingest/runs")

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "failed to trigger run", body["error"])
	})

	t.Run("invalid force flag", func(t *testing.T) {
		runner := new(MockRunner)

		rec, _ := serve(t, NewHandlers(runner, new(MockStats), nil, testLogger()), http.MethodPost, "/api/v1/ingest/runs?force=maybe")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		runner.AssertNotCalled(t, "Trigger", mock.Anything, mock.Anything)
	})
}

func TestGetStats(t *testing.T) {
	synced := time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)
	stats := new(MockStats)
	stats.On("Stats", mock.Anything).Return(&catalog.Stats{
		Products: 12, InStock: 9, Brands: 1, Categories: 3, LastProductSync: synced,
	}, nil)

	rec, body := serve(t, NewHandlers(new(MockRunner), stats, nil, testLogger()), http.MethodGet, "/api/v1/catalog/stats")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(12), body["products"])
	assert.Equal(t, float64(9), body["in_stock"])
	assert.Equal(t, "2024-06-01T08:30:00Z", body["last_product_sync"])

	t.Run("empty catalog omits last sync", func(t *testing.T) {
		stats := new(MockStats)
		stats.On("Stats", mock.Anything).Return(&catalog.Stats{}, nil)

		_, body := serve(t, NewHandlers(new(MockRunner), stats, nil, testLogger()), http.MethodGet, "/api/v1/catalog/stats")
		assert.NotContains(t, body, "last_product_sync")
	})
}

func TestHealth(t *testing.T) {
	t.Run("ok without outbox", func(t *testing.T) {
		rec, body := serve(t, NewHandlers(new(MockRunner), new(MockStats), nil, testLogger()), http.MethodGet, "/health")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", body["status"])
		assert.NotContains(t, body, "outbox")
	})

	t.Run("dead letters make the service unhealthy", func(t *testing.T) {
		outbox := new(MockOutbox)
		outbox.On("PendingCount", mock.Anything).Return(int64(3), nil)
		outbox.On("DeadLetterCount", mock.Anything).Return(int64(250), nil)

		rec, body := serve(t, NewHandlers(new(MockRunner), new(MockStats), outbox, testLogger()), http.MethodGet, "/health")

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "error", body["status"])
	})

	t.Run("pending backlog warns", func(t *testing.T) {
		outbox := new(MockOutbox)
		outbox.On("PendingCount", mock.Anything).Return(int64(5000), nil)
		outbox.On("DeadLetterCount", mock.Anything).Return(int64(0), nil)

		rec, body := serve(t, NewHandlers(new(MockRunner), new(MockStats), outbox, testLogger()), http.MethodGet, "/health")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "warning", body["status"])
	})
}
