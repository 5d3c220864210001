package health

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

type staticChecker struct {
	err error
}

func (c staticChecker) Check() error {
	return c.err
}

func TestMultiChecker(t *testing.T) {
	assert.NoError(t, NewMultiChecker().Check())
	assert.NoError(t, NewMultiChecker(staticChecker{}, staticChecker{}).Check())

	mc := NewMultiChecker(staticChecker{}, staticChecker{err: errors.New("redis down")})
	mc.Add(staticChecker{err: errors.New("agent not running")})
	err := mc.Check()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
	assert.Contains(t, err.Error(), "agent not running")
}

func TestStartupCompleteChecker(t *testing.T) {
	c := NewStartupCompleteChecker()
	assert.Error(t, c.Check())
	c.MarkComplete()
	assert.NoError(t, c.Check())
}

func TestHealthCheckHttpHandler(t *testing.T) {
	startup := NewStartupCompleteChecker()
	mux := http.NewServeMux()
	SetupHttpMux(mux, NewMultiChecker(startup))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "startup is not complete")

	startup.MarkComplete()
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
