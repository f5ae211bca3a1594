package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"queue-listener-service/internal/contextkeys"
	"queue-listener-service/internal/core/port"
	"queue-listener-service/pkg/rabbitmq/rabbitmq_listener"

	"github.com/go-chi/chi/v5"
)

// ListenerHandlers - обработчики административного API
type ListenerHandlers struct {
	listener port.ListenerAdminPort
	journal  port.EventJournalPort
}

func NewListenerHandlers(listener port.ListenerAdminPort, journal port.EventJournalPort) *ListenerHandlers {
	return &ListenerHandlers{listener: listener, journal: journal}
}

// Health - 200, только если слушатель запущен и все его циклы чтения живы
func (h *ListenerHandlers) Health(w http.ResponseWriter, r *http.Request) {
	if !h.listener.IsRunning() {
		WriteJSONError(w, http.StatusServiceUnavailable, "listener is not running")
		return
	}
	if !h.listener.Healthy() {
		var stalled []string
		for _, s := range h.listener.Services() {
			if s.Started && !s.Consuming {
				stalled = append(stalled, s.Name)
			}
		}
		RespondWithJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Stalled: stalled})
		return
	}
	RespondWithJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (h *ListenerHandlers) ListServices(w http.ResponseWriter, r *http.Request) {
	services := h.listener.Services()
	if services == nil {
		services = []rabbitmq_listener.ServiceStatus{}
	}
	RespondWithJSON(w, http.StatusOK, ServicesResponse{
		Running:  h.listener.IsRunning(),
		Services: services,
	})
}

func (h *ListenerHandlers) DetachService(w http.ResponseWriter, r *http.Request) {
	logger := contextkeys.LoggerFromContext(r.Context())
	name := chi.URLParam(r, "name")

	err := h.listener.Detach(name)
	switch {
	case err == nil:
		logger.Info("Service detached via API", port.Fields{"service": name})
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, rabbitmq_listener.ErrServiceNotRegistered):
		WriteJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, rabbitmq_listener.ErrChannelNotInitialized):
		WriteJSONError(w, http.StatusServiceUnavailable, err.Error())
	default:
		logger.Error("Failed to detach service", err, port.Fields{"service": name})
		WriteJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *ListenerHandlers) SetQos(w http.ResponseWriter, r *http.Request) {
	logger := contextkeys.LoggerFromContext(r.Context())

	var req QosRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.listener.SetQosSettings(req.PrefetchCount, req.PrefetchSize)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, rabbitmq_listener.ErrPrefetchOverflow):
		WriteJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, rabbitmq_listener.ErrChannelNotInitialized):
		WriteJSONError(w, http.StatusServiceUnavailable, err.Error())
	default:
		logger.Error("Failed to set QoS", err, nil)
		WriteJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

// CountEvents - количество событий в журнале, ?queue= фильтрует по очереди
func (h *ListenerHandlers) CountEvents(w http.ResponseWriter, r *http.Request) {
	queue := r.URL.Query().Get("queue")
	n, err := h.journal.Count(r.Context(), queue)
	if err != nil {
		contextkeys.LoggerFromContext(r.Context()).Error("Failed to count events", err, nil)
		WriteJSONError(w, http.StatusInternalServerError, "failed to count events")
		return
	}
	RespondWithJSON(w, http.StatusOK, CountResponse{Queue: queue, Count: n})
}
