package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	mrand "math/rand"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"esphub/internal/config"
	"esphub/internal/util"
)

type campaign struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	SentAt string `json:"sentAt,omitempty"`
}

type counters struct {
	Delivered    int64  `json:"delivered"`
	Opened       int64  `json:"opened"`
	Clicked      int64  `json:"clicked"`
	Bounced      int64  `json:"bounced"`
	Complained   int64  `json:"complained"`
	Unsubscribed int64  `json:"unsubscribed"`
	FirstSentAt  string `json:"firstSentAt,omitempty"`
	LastEventAt  string `json:"lastEventAt,omitempty"`
}

type server struct {
	cfg    config.MockESPConfig
	key    *rsa.PrivateKey
	client *http.Client

	mu        sync.Mutex
	campaigns map[string]*campaign
	stats     map[string]*counters

	rng   *mrand.Rand
	rngMu sync.Mutex
	// sleep is replaced in tests.
	sleep func(time.Duration)
}

func newServer(cfg config.MockESPConfig, key *rsa.PrivateKey, client *http.Client) *server {
	s := &server{
		cfg:       cfg,
		key:       key,
		client:    client,
		campaigns: map[string]*campaign{},
		stats:     map[string]*counters{},
		rng:       mrand.New(mrand.NewSource(time.Now().UnixNano())),
		sleep:     time.Sleep,
	}
	for i := 1; i <= cfg.CampaignCount; i++ {
		id := fmt.Sprintf("cmp_%d", i)
		s.campaigns[id] = &campaign{ID: id, Name: fmt.Sprintf("Mock campaign %d", i), Status: "scheduled"}
		s.stats[id] = &counters{}
	}
	return s
}

func loadOrGenerateKey(pemText string) (*rsa.PrivateKey, error) {
	if pemText == "" {
		return rsa.GenerateKey(rand.Reader, 2048)
	}
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, errors.New("no PEM block in MOCK_PRIVATE_KEY")
	}
	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return k, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	k, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("expected RSA key, got %T", parsed)
	}
	return k, nil
}

func (s *server) publicKeyPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(&s.key.PublicKey)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

func (s *server) register(m *mux.Router) {
	m.HandleFunc("/emails/schedule", s.handleSchedules).Methods(http.MethodGet)
	m.HandleFunc("/emails/schedule/{id}/stats", s.handleStats).Methods(http.MethodGet)
	m.HandleFunc("/workflows/", s.handleWorkflows).Methods(http.MethodGet)
	m.HandleFunc("/contacts/", s.handleContacts).Methods(http.MethodGet)
	m.HandleFunc("/oauth/token", s.handleToken).Methods(http.MethodPost)
	m.HandleFunc("/mock/public-key", s.handlePublicKey).Methods(http.MethodGet)
	m.HandleFunc("/mock/campaigns/{id}/send", s.handleSend).Methods(http.MethodPost)
}

func (s *server) authorized(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("Authorization") == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "missing bearer token"})
		return false
	}
	if loc := r.URL.Query().Get("locationId"); loc != "" && loc != s.cfg.LocationID {
		writeJSON(w, http.StatusForbidden, map[string]string{"message": "location not authorized"})
		return false
	}
	return true
}

func (s *server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	s.mu.Lock()
	out := make([]campaign, 0, len(s.campaigns))
	for _, c := range s.campaigns {
		out = append(out, *c)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, map[string]any{"schedules": out})
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	st, ok := s.stats[id]
	var snapshot counters
	if ok {
		snapshot = *st
	}
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "campaign not found"})
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *server) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": []map[string]string{
		{"id": "wf_welcome", "name": "Welcome series", "status": "published"},
		{"id": "wf_winback", "name": "Win-back", "status": "draft"},
	}})
}

func (s *server) handleContacts(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	limit := s.cfg.RecipientsPerOp
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && n < limit {
		limit = n
	}
	contacts := make([]map[string]string, 0, limit)
	for i := 0; i < limit; i++ {
		contacts = append(contacts, map[string]string{
			"id":        fmt.Sprintf("ct_%d", i),
			"email":     fmt.Sprintf("recipient%d@example.test", i),
			"firstName": "Recipient",
			"lastName":  strconv.Itoa(i),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"contacts": contacts})
}

func (s *server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || r.PostForm.Get("refresh_token") == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  util.NewID("at"),
		"refresh_token": util.NewID("rt"),
		"expires_in":    86399,
		"scope":         "emails/schedule.readonly workflows.readonly contacts.readonly",
		"locationId":    s.cfg.LocationID,
	})
}

func (s *server) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	p, err := s.publicKeyPEM()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	_, _ = w.Write([]byte(p))
}

// handleSend marks the campaign sent and plays out its engagement in the
// background. ?recipients= overrides the configured count.
func (s *server) handleSend(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	recipients := s.cfg.RecipientsPerOp
	if n, err := strconv.Atoi(r.URL.Query().Get("recipients")); err == nil && n > 0 {
		recipients = n
	}

	now := util.NowUTC()
	s.mu.Lock()
	c, ok := s.campaigns[id]
	if !ok {
		c = &campaign{ID: id, Name: "Ad hoc " + id}
		s.campaigns[id] = c
		s.stats[id] = &counters{}
	}
	c.Status = "complete"
	c.SentAt = now.Format(time.RFC3339)
	s.mu.Unlock()

	events := s.plan(id, recipients, now)
	go s.emit(events)
	writeJSON(w, http.StatusAccepted, map[string]any{"campaignId": id, "recipients": recipients, "events": len(events)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
