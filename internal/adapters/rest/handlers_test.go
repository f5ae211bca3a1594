package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"queue-listener-service/internal/adapters/memory"
	"queue-listener-service/internal/contextkeys"
	"queue-listener-service/internal/core/domain"
	"queue-listener-service/pkg/rabbitmq/rabbitmq_listener"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockListener struct {
	mock.Mock
}

func (m *mockListener) Services() []rabbitmq_listener.ServiceStatus {
	return m.Called().Get(0).([]rabbitmq_listener.ServiceStatus)
}

func (m *mockListener) Detach(name string) error {
	return m.Called(name).Error(0)
}

func (m *mockListener) SetQosSettings(prefetchCount, prefetchSize *int64) error {
	return m.Called(prefetchCount, prefetchSize).Error(0)
}

func (m *mockListener) IsRunning() bool {
	return m.Called().Bool(0)
}

func (m *mockListener) Healthy() bool {
	return m.Called().Bool(0)
}

func newTestRouter(l *mockListener, journal *memory.EventJournal, origins ...string) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "test_total", Help: "test"}))
	logger := contextkeys.LoggerFromContext(context.Background())
	return NewRouter(NewListenerHandlers(l, journal), promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), origins, logger)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	l := &mockListener{}
	l.On("IsRunning").Return(true).Once()
	l.On("Healthy").Return(true).Once()
	l.On("IsRunning").Return(false).Once()
	router := newTestRouter(l, memory.NewEventJournal())

	rec := do(t, router, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Trace-ID"))

	rec = do(t, router, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	l.AssertExpectations(t)
}

func TestHealthReportsStalledConsumers(t *testing.T) {
	l := &mockListener{}
	l.On("IsRunning").Return(true)
	l.On("Healthy").Return(false)
	l.On("Services").Return([]rabbitmq_listener.ServiceStatus{
		{Name: "orders-journal", Started: true, Consuming: true},
		{Name: "audit-journal", Started: true, Consuming: false},
	})
	router := newTestRouter(l, memory.NewEventJournal())

	rec := do(t, router, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, HealthResponse{Status: "degraded", Stalled: []string{"audit-journal"}}, resp)
}

func TestListServices(t *testing.T) {
	l := &mockListener{}
	l.On("IsRunning").Return(true)
	l.On("Services").Return([]rabbitmq_listener.ServiceStatus{
		{Name: "orders-journal", Queue: "orders", AckMode: "client", Dispatch: "concurrent", Started: true},
	})
	router := newTestRouter(l, memory.NewEventJournal())

	rec := do(t, router, http.MethodGet, "/api/v1/listener/services", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ServicesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Running)
	require.Len(t, resp.Services, 1)
	assert.Equal(t, "orders", resp.Services[0].Queue)
	assert.True(t, resp.Services[0].Started)
}

func TestDetachService(t *testing.T) {
	l := &mockListener{}
	l.On("Detach", "orders-journal").Return(nil).Once()
	l.On("Detach", "ghost").Return(rabbitmq_listener.ErrServiceNotRegistered).Once()
	l.On("Detach", "audit-journal").
		Return(errors.Join(rabbitmq_listener.ErrSubscriptionCancelFailed, errors.New("channel closed"))).Once()
	router := newTestRouter(l, memory.NewEventJournal())

	assert.Equal(t, http.StatusNoContent, do(t, router, http.MethodDelete, "/api/v1/listener/services/orders-journal", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodDelete, "/api/v1/listener/services/ghost", "").Code)
	assert.Equal(t, http.StatusInternalServerError, do(t, router, http.MethodDelete, "/api/v1/listener/services/audit-journal", "").Code)
	l.AssertExpectations(t)
}

func TestSetQos(t *testing.T) {
	l := &mockListener{}
	l.On("SetQosSettings", mock.MatchedBy(func(c *int64) bool { return c != nil && *c == 20 }), (*int64)(nil)).
		Return(nil).Once()
	l.On("SetQosSettings", mock.MatchedBy(func(c *int64) bool { return c != nil && *c == 70000 }), (*int64)(nil)).
		Return(rabbitmq_listener.ErrPrefetchOverflow).Once()
	router := newTestRouter(l, memory.NewEventJournal())

	assert.Equal(t, http.StatusNoContent, do(t, router, http.MethodPut, "/api/v1/listener/qos", `{"prefetch_count": 20}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPut, "/api/v1/listener/qos", `{"prefetch_count": 70000}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPut, "/api/v1/listener/qos", `not json`).Code)
	l.AssertExpectations(t)
}

func TestCountEvents(t *testing.T) {
	journal := memory.NewEventJournal()
	require.NoError(t, journal.Save(context.Background(), domain.Event{ID: uuid.New(), Queue: "orders"}))
	require.NoError(t, journal.Save(context.Background(), domain.Event{ID: uuid.New(), Queue: "audit_events"}))
	router := newTestRouter(&mockListener{}, journal)

	rec := do(t, router, http.MethodGet, "/api/v1/listener/events/count?queue=orders", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, CountResponse{Queue: "orders", Count: 1}, resp)
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(&mockListener{}, memory.NewEventJournal())

	rec := do(t, router, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_total")
}

func TestCorsPreflight(t *testing.T) {
	router := newTestRouter(&mockListener{}, memory.NewEventJournal(), "http://localhost:5173")

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/listener/qos", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}
