package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, r *Registry) (int, Status) {
	t.Helper()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var s Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	return rec.Code, s
}

func TestRegistry_healthy(t *testing.T) {
	r := NewRegistry(time.Second)
	code, s := serve(t, r)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", s.Status)

	r.Register("redis", func(context.Context) error { return nil })
	code, s = serve(t, r)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", s.Checks["redis"])
}

func TestRegistry_unhealthy(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Register("redis", func(context.Context) error { return errors.New("connection refused") })

	code, s := serve(t, r)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", s.Status)
	assert.Equal(t, "connection refused", s.Checks["redis"])
}

func TestRegistry_check_timeout(t *testing.T) {
	r := NewRegistry(20 * time.Millisecond)
	r.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	code, _ := serve(t, r)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}
