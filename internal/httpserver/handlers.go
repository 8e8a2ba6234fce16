package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"esphub/internal/connections"
	"esphub/internal/domain"
	"esphub/internal/observability"
	"esphub/internal/providers"
	"esphub/internal/service"
	"esphub/internal/store"
	"esphub/internal/util"
)

const (
	defaultMaxBody      = 10 << 20
	defaultContactLimit = 100
	maxContactLimit     = 1000
)

type BackfillQueue interface {
	EnqueueBackfill(ctx context.Context, job domain.BackfillJob) error
}

type API struct {
	Svc         *service.Service
	Registry    *providers.Registry
	Accounts    store.AccountRepository
	Connections *connections.Store
	Stats       store.StatsRepository
	// Backfills is optional; without it backfills run inside the request.
	Backfills    BackfillQueue
	MaxBodyBytes int64
	IDGen        func() string
}

func (a *API) Register(m *mux.Router) {
	m.HandleFunc("/v1/providers", a.handleListProviders).Methods(http.MethodGet)
	m.HandleFunc("/v1/providers/{provider}/capabilities", a.handleProviderCapabilities).Methods(http.MethodGet)

	m.HandleFunc("/v1/accounts/{accountKey}", a.handlePutAccount).Methods(http.MethodPut)
	acct := m.PathPrefix("/v1/accounts/{accountKey}").Subrouter()
	acct.HandleFunc("/capabilities", a.handleAccountCapabilities).Methods(http.MethodGet)
	acct.HandleFunc("/connections/oauth", a.handlePutOAuth).Methods(http.MethodPut)
	acct.HandleFunc("/connections/oauth", a.handleDeleteOAuth).Methods(http.MethodDelete)
	acct.HandleFunc("/connections/api-key", a.handlePutAPIKey).Methods(http.MethodPut)
	acct.HandleFunc("/connections/api-key", a.handleDeleteAPIKey).Methods(http.MethodDelete)
	acct.HandleFunc("/campaigns/{campaignId}/stats", a.handleCampaignStats).Methods(http.MethodGet)
	acct.HandleFunc("/templates", a.handleCreateTemplate).Methods(http.MethodPost)
	acct.HandleFunc("/media", a.handleUploadMedia).Methods(http.MethodPost)
	acct.HandleFunc("/custom-values", a.handleCustomValues).Methods(http.MethodPost)
	acct.HandleFunc("/business-details", a.handleBusinessDetails).Methods(http.MethodPost)
	acct.HandleFunc("/backfill", a.handleBackfill).Methods(http.MethodPost)

	m.HandleFunc("/v1/aggregate/campaigns", a.handleAggregateCampaigns).Methods(http.MethodGet)
	m.HandleFunc("/v1/aggregate/workflows", a.handleAggregateWorkflows).Methods(http.MethodGet)
	m.HandleFunc("/v1/aggregate/contacts", a.handleAggregateContacts).Methods(http.MethodGet)

	m.HandleFunc("/v1/admin/rotate-secrets", a.handleRotateSecrets).Methods(http.MethodPost)
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	limit := a.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBody
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit)).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrBodyTooLarge)
			return false
		}
		writeError(w, http.StatusBadRequest, ErrInvalidJSON)
		return false
	}
	return true
}

type providerInfo struct {
	Provider     string                      `json:"provider"`
	Capabilities domain.ProviderCapabilities `json:"capabilities"`
}

func (a *API) handleListProviders(w http.ResponseWriter, r *http.Request) {
	out := []providerInfo{}
	for _, p := range a.Registry.Providers() {
		caps, err := a.Registry.Capabilities(p)
		if err != nil {
			continue
		}
		out = append(out, providerInfo{Provider: p, Capabilities: caps})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleProviderCapabilities(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	caps, err := a.Registry.Capabilities(provider)
	if err != nil {
		writeError(w, http.StatusNotFound, ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, providerInfo{Provider: strings.ToLower(provider), Capabilities: caps})
}

type accountRequest struct {
	Provider string `json:"provider"`
	Name     string `json:"name"`
}

func (a *API) handlePutAccount(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["accountKey"]
	var req accountRequest
	if !a.decode(w, r, &req) {
		return
	}
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if _, err := a.Registry.Adapter(provider); err != nil {
		writeError(w, http.StatusBadRequest, ErrMisconfigured)
		return
	}
	acc := domain.Account{Key: key, Provider: provider, Name: req.Name}
	if err := a.Accounts.UpsertAccount(r.Context(), acc); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (a *API) handleAccountCapabilities(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["accountKey"]
	ad, err := a.Registry.AdapterForAccount(r.Context(), key)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, providerInfo{Provider: ad.Provider, Capabilities: ad.Capabilities()})
}

type oauthRequest struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	LocationID   string     `json:"locationId"`
	LocationName string     `json:"locationName"`
	Scopes       []string   `json:"scopes"`
	ExpiresAt    *time.Time `json:"expiresAt"`
}

func (a *API) handlePutOAuth(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["accountKey"]
	var req oauthRequest
	if !a.decode(w, r, &req) {
		return
	}
	provider, err := a.Registry.AccountProvider(r.Context(), key)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := a.Connections.UpsertOAuthConnection(r.Context(), domain.OAuthConnection{
		AccountKey:   key,
		Provider:     provider,
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		LocationID:   req.LocationID,
		LocationName: req.LocationName,
		Scopes:       req.Scopes,
		ExpiresAt:    req.ExpiresAt,
	}); err != nil {
		writeDomainError(w, r, err)
		return
	}
	slog.Info("oauth connection stored", "account_key", key, "provider", provider, "location_id", req.LocationID)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleDeleteOAuth(w http.ResponseWriter, r *http.Request) {
	a.deleteConnection(w, r, a.Connections.DeleteOAuthConnection)
}

func (a *API) handleDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	a.deleteConnection(w, r, a.Connections.DeleteAPIKeyConnection)
}

func (a *API) deleteConnection(w http.ResponseWriter, r *http.Request, del func(ctx context.Context, accountKey, provider string) (bool, error)) {
	key := mux.Vars(r)["accountKey"]
	provider, err := a.Registry.AccountProvider(r.Context(), key)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	found, err := del(r.Context(), key, provider)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePutAPIKey checks the key with the provider when the adapter can,
// and stores the provider's own account id and name on success.
func (a *API) handlePutAPIKey(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["accountKey"]
	var in domain.APIKeyInput
	if !a.decode(w, r, &in) {
		return
	}
	ad, err := a.Registry.AdapterForAccount(r.Context(), key)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	conn := domain.APIKeyConnection{AccountKey: key, Provider: ad.Provider, APIKey: in.APIKey, AccountID: in.AccountID}

	if providers.HasCapability(ad, domain.CapValidation) {
		res, err := ad.Validation.Validate(r.Context(), in)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		if !res.Valid {
			writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: ErrInvalidCredentials, Provider: ad.Provider, Reason: res.Reason})
			return
		}
		if res.AccountID != "" {
			conn.AccountID = res.AccountID
		}
		conn.AccountName = res.AccountName
	}

	if err := a.Connections.UpsertAPIKeyConnection(r.Context(), conn); err != nil {
		writeDomainError(w, r, err)
		return
	}
	slog.Info("api key connection stored", "account_key", key, "provider", ad.Provider, "account_id", conn.AccountID)
	writeJSON(w, http.StatusOK, map[string]string{
		"provider":    conn.Provider,
		"accountId":   conn.AccountID,
		"accountName": conn.AccountName,
	})
}

func (a *API) handleCampaignStats(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key, campaignID := vars["accountKey"], vars["campaignId"]
	ad, creds, err := a.Svc.Resolve(r.Context(), key, domain.CapCampaigns)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	stats, err := a.Stats.GetCampaignStats(r.Context(), ad.Provider, creds.ScopedID(), []string{campaignID})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	st, ok := stats[campaignID]
	if !ok {
		writeError(w, http.StatusNotFound, ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var in domain.TemplateInput
	if !a.decode(w, r, &in) {
		return
	}
	if in.Name == "" || in.HTML == "" {
		writeError(w, http.StatusBadRequest, ErrMissingFields)
		return
	}
	ad, creds, err := a.Svc.Resolve(r.Context(), mux.Vars(r)["accountKey"], domain.CapTemplates)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	ref, err := ad.Templates.CreateTemplate(r.Context(), creds, in)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ref)
}

func (a *API) handleUploadMedia(w http.ResponseWriter, r *http.Request) {
	limit := a.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBody
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrMissingFields)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrBodyTooLarge)
		return
	}

	ad, creds, err := a.Svc.Resolve(r.Context(), mux.Vars(r)["accountKey"], domain.CapMedia)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	ref, err := ad.Media.UploadMedia(r.Context(), creds, domain.MediaUpload{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ref)
}

func (a *API) handleCustomValues(w http.ResponseWriter, r *http.Request) {
	var values map[string]string
	if !a.decode(w, r, &values) {
		return
	}
	if len(values) == 0 {
		writeError(w, http.StatusBadRequest, ErrMissingFields)
		return
	}
	ad, creds, err := a.Svc.Resolve(r.Context(), mux.Vars(r)["accountKey"], domain.CapCustomValues)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	n, err := ad.CustomValues.SyncCustomValues(r.Context(), creds, values)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"synced": n})
}

func (a *API) handleBusinessDetails(w http.ResponseWriter, r *http.Request) {
	var in domain.BusinessDetails
	if !a.decode(w, r, &in) {
		return
	}
	ad, creds, err := a.Svc.Resolve(r.Context(), mux.Vars(r)["accountKey"], domain.CapAccountDetailsSync)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := ad.AccountDetailsSync.SyncBusinessDetails(r.Context(), creds, in); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type backfillRequest struct {
	CampaignIDs []string `json:"campaignIds"`
}

func (a *API) handleBackfill(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["accountKey"]
	var req backfillRequest
	if r.ContentLength != 0 && !a.decode(w, r, &req) {
		return
	}

	if a.Backfills == nil {
		rep, err := a.Svc.Backfill(r.Context(), key, req.CampaignIDs)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
		return
	}

	// Fail fast on accounts the worker could never serve.
	if _, _, err := a.Svc.Resolve(r.Context(), key, domain.CapCampaigns); err != nil {
		writeDomainError(w, r, err)
		return
	}
	job := domain.BackfillJob{
		ID:          a.newID(),
		AccountKey:  key,
		CampaignIDs: req.CampaignIDs,
		RequestedAt: util.NowUTC(),
	}
	if err := a.Backfills.EnqueueBackfill(r.Context(), job); err != nil {
		observability.BackfillJobs.WithLabelValues("enqueue", "error").Inc()
		slog.Error("enqueue backfill failed", "err", err, "account_key", key, "job_id", job.ID)
		writeError(w, http.StatusBadGateway, ErrDependency)
		return
	}
	observability.BackfillJobs.WithLabelValues("enqueue", "ok").Inc()
	writeJSON(w, http.StatusAccepted, job)
}

func (a *API) newID() string {
	if a.IDGen != nil {
		return a.IDGen()
	}
	return util.NewID("bf")
}

// accountKeys parses ?accounts=a,b. Absent means every account.
func accountKeys(r *http.Request) []string {
	var out []string
	for _, raw := range r.URL.Query()["accounts"] {
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				out = append(out, k)
			}
		}
	}
	return out
}

func (a *API) handleAggregateCampaigns(w http.ResponseWriter, r *http.Request) {
	rep, err := a.Svc.AggregateCampaigns(r.Context(), accountKeys(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (a *API) handleAggregateWorkflows(w http.ResponseWriter, r *http.Request) {
	rep, err := a.Svc.AggregateWorkflows(r.Context(), accountKeys(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (a *API) handleAggregateContacts(w http.ResponseWriter, r *http.Request) {
	limit := defaultContactLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxContactLimit {
			writeError(w, http.StatusBadRequest, ErrBadParameter)
			return
		}
		limit = n
	}
	rep, err := a.Svc.AggregateContacts(r.Context(), accountKeys(r), limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (a *API) handleRotateSecrets(w http.ResponseWriter, r *http.Request) {
	rep, err := a.Connections.RotateSecrets(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	slog.Info("vault rotation finished", "scanned", rep.Scanned, "reencrypted", rep.Reencrypted, "unreadable", rep.Unreadable)
	writeJSON(w, http.StatusOK, rep)
}
