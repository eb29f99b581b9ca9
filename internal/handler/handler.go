// Package handler принимает webhook-события шлюза чата и отдаёт их
// диспетчеру очередей.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"retail-assistant/internal/metrics"
	"retail-assistant/internal/transport"
)

// Dispatcher ставит событие в очередь пользователя.
type Dispatcher interface {
	Enqueue(ev transport.Event)
}

// Limiter решает, принимать ли очередное событие пользователя.
type Limiter interface {
	Admit(identity int64) bool
}

// Notifier отправляет пользователю служебное уведомление через шлюз чата.
type Notifier interface {
	SendText(ctx context.Context, identity int64, text string, kb transport.Keyboard) (string, error)
}

// Pinger проверяет доступность хранилища.
type Pinger interface {
	Ping(ctx context.Context) error
}

const msgTooManyRequests = "Вы отправили слишком много запросов. Пожалуйста, подождите немного."

// Handler — HTTP-обработчики бота-ассистента.
type Handler struct {
	dispatcher Dispatcher
	limiter    Limiter
	notifier   Notifier
	pinger     Pinger
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewHandler создаёт обработчики с указанными зависимостями.
func NewHandler(dispatcher Dispatcher, limiter Limiter, notifier Notifier, pinger Pinger, m *metrics.Metrics, logger *zap.Logger) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		limiter:    limiter,
		notifier:   notifier,
		pinger:     pinger,
		metrics:    m,
		logger:     logger,
	}
}

// Events принимает одно событие шлюза. Событие сверх лимита частоты
// подтверждается, но не обрабатывается, чтобы шлюз не повторял доставку;
// пользователь получает уведомление о превышении лимита.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	var ev transport.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		h.metrics.EventsRejected.Inc()
		http.Error(w, "invalid event payload", http.StatusBadRequest)
		return
	}

	if ev.Identity == 0 {
		h.metrics.EventsRejected.Inc()
		http.Error(w, "missing identity", http.StatusBadRequest)
		return
	}

	if !h.limiter.Admit(ev.Identity) {
		h.metrics.EventsLimited.Inc()
		h.logger.Info("event rate limited", zap.Int64("identity", ev.Identity))
		if _, err := h.notifier.SendText(r.Context(), ev.Identity, msgTooManyRequests, nil); err != nil {
			h.logger.Error("rate limit notice failed", zap.Int64("identity", ev.Identity), zap.Error(err))
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	h.metrics.EventsTotal.Inc()
	h.dispatcher.Enqueue(ev)
	w.WriteHeader(http.StatusOK)
}

// Ping проверяет соединение с БД.
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	if err := h.pinger.Ping(r.Context()); err != nil {
		h.logger.Error("database ping failed", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
