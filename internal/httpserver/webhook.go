package httpserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"esphub/internal/domain"
	"esphub/internal/observability"
	"esphub/internal/webhook"
)

const defaultMaxWebhookBody = 1 << 20

type WebhookProcessor interface {
	Process(ctx context.Context, provider, family string, body []byte, headers http.Header) (webhook.Summary, error)
}

type Webhook struct {
	Pipeline     WebhookProcessor
	MaxBodyBytes int64
}

func (h *Webhook) Register(m *mux.Router) {
	m.HandleFunc("/webhooks/esp/{provider}/{family}", h.handleWebhook).Methods(http.MethodPost)
}

func (h *Webhook) handleWebhook(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	provider, family := vars["provider"], vars["family"]

	limit := h.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxWebhookBody
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			observability.WebhookRequests.WithLabelValues(provider, family, "body_too_large").Inc()
			writeError(w, http.StatusRequestEntityTooLarge, ErrBodyTooLarge)
			return
		}
		slog.Warn("webhook body read failed", "provider", provider, "family", family, "err", err)
		observability.WebhookRequests.WithLabelValues(provider, family, "body_error").Inc()
		writeError(w, http.StatusBadRequest, ErrBodyUnreadable)
		return
	}

	sum, err := h.Pipeline.Process(r.Context(), provider, family, body, r.Header)
	status, outcome, msg := webhookStatus(err)
	observability.WebhookRequests.WithLabelValues(provider, family, outcome).Inc()
	if err != nil {
		var ce *domain.CapabilityUnsupportedError
		if errors.As(err, &ce) {
			writeDomainError(w, r, err)
			return
		}
		if status >= http.StatusInternalServerError {
			slog.Error("webhook processing failed", "provider", provider, "family", family, "err", err)
		} else {
			slog.Info("webhook rejected", "provider", provider, "family", family, "status", status, "err", err)
		}
		writeError(w, status, msg)
		return
	}

	slog.Info("webhook processed",
		"provider", provider,
		"family", family,
		"updated", sum.Updated,
		"failed", sum.Failed,
		"skipped", sum.Skipped,
		"duplicates", sum.Duplicates,
	)
	writeJSON(w, http.StatusOK, sum)
}

func webhookStatus(err error) (int, string, string) {
	switch {
	case err == nil:
		return http.StatusOK, "processed", ""
	case errors.Is(err, domain.ErrSignatureInvalid):
		return http.StatusUnauthorized, "invalid_signature", ErrInvalidSignature
	case errors.Is(err, domain.ErrMalformedPayload):
		return http.StatusBadRequest, "malformed", ErrInvalidJSON
	case errors.Is(err, domain.ErrUnsupportedPayload):
		return http.StatusBadRequest, "unsupported_payload", ErrUnsupportedPayload
	case errors.Is(err, domain.ErrUnknownRoute), errors.Is(err, domain.ErrAdapterNotRegistered):
		return http.StatusNotFound, "unknown_route", ErrUnknownRoute
	case errors.Is(err, domain.ErrCapabilityUnsupported):
		return http.StatusNotImplemented, "unsupported", ErrCapabilityNotOffered
	}
	return http.StatusInternalServerError, "error", ErrDependency
}
