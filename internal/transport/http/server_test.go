package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/xiaot623/gogo/dbchat/internal/adapter/llm"
	"github.com/xiaot623/gogo/dbchat/internal/metrics"
	"github.com/xiaot623/gogo/dbchat/internal/orchestrator"
	"github.com/xiaot623/gogo/dbchat/internal/service"
	"github.com/xiaot623/gogo/dbchat/tests/helpers"
)

func TestNewServerRoutes(t *testing.T) {
	db := helpers.NewTestSQLiteStore(t)
	m := metrics.New()
	o := orchestrator.New(db, llm.NewMockGateway(), nil, orchestrator.Config{}, orchestrator.WithRecorder(m))
	e := NewServer(service.New(db, o, nil, nil, nil), m.Handler(), nil)

	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/v1/tools", http.StatusOK},
		{http.MethodGet, "/v1/sessions", http.StatusOK},
		{http.MethodGet, "/v1/sessions/missing", http.StatusNotFound},
		{http.MethodPost, "/v1/sessions", http.StatusCreated},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, tt.status, rec.Code, "%s %s", tt.method, tt.path)
	}
}
