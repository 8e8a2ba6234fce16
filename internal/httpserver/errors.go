package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"esphub/internal/domain"
)

const (
	ErrInvalidJSON          = "invalid json"
	ErrInvalidSignature     = "invalid signature"
	ErrUnsupportedPayload   = "unsupported payload type"
	ErrUnknownRoute         = "unknown provider/family"
	ErrMissingFields        = "missing required fields"
	ErrBadParameter         = "bad parameter"
	ErrBodyTooLarge         = "body too large"
	ErrBodyUnreadable       = "body unreadable"
	ErrDependency           = "dependency error"
	ErrNotFound             = "not found"
	ErrAccountNotFound      = "account not found"
	ErrNotConnected         = "account not connected"
	ErrMisconfigured        = "provider not registered"
	ErrCapabilityNotOffered = "capability unsupported"
	ErrInvalidCredentials   = "credentials rejected by provider"
)

type errorBody struct {
	Error      string `json:"error"`
	Provider   string `json:"provider,omitempty"`
	Capability string `json:"capability,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeDomainError maps the domain taxonomy onto HTTP. Anything unrecognised
// is a dependency failure and is logged with the request route.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var ce *domain.CapabilityUnsupportedError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &ce):
		writeJSON(w, http.StatusNotImplemented, errorBody{
			Error:      ErrCapabilityNotOffered,
			Provider:   ce.Provider,
			Capability: string(ce.Capability),
		})
	case errors.Is(err, domain.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, ErrAccountNotFound)
	case errors.Is(err, domain.ErrCredentialsMissing):
		writeError(w, http.StatusConflict, ErrNotConnected)
	case errors.Is(err, domain.ErrMissingFields):
		writeError(w, http.StatusBadRequest, ErrMissingFields)
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, ErrBodyTooLarge)
	case errors.Is(err, domain.ErrAdapterNotRegistered):
		slog.Error("account references unregistered provider", "request_id", RequestID(r.Context()), "route", routeLabel(r), "err", err)
		writeError(w, http.StatusInternalServerError, ErrMisconfigured)
	default:
		slog.Error("request failed", "request_id", RequestID(r.Context()), "route", routeLabel(r), "err", err)
		writeError(w, http.StatusBadGateway, ErrDependency)
	}
}
