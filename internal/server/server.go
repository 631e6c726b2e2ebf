// Package server exposes the administrative trigger surface over HTTP:
// manual sweeps, capacity enforcement, stats and channel provisioning.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dugoutlabs/clubkeeper/internal/config"
	"github.com/dugoutlabs/clubkeeper/internal/platform"
	"github.com/dugoutlabs/clubkeeper/internal/retention"
)

// ProvisionAPI is the create-channel slice of the platform client.
type ProvisionAPI interface {
	CreateChannel(ctx context.Context, category, name string, eventTime *time.Time, topic string) (*platform.ChannelMeta, error)
}

type Server struct {
	svc          *retention.Service
	cfg          *config.Config
	provision    ProvisionAPI
	breakerState func() string
	httpServer   *http.Server
}

func New(svc *retention.Service, cfg *config.Config, provision ProvisionAPI, breakerState func() string) *Server {
	return &Server{
		svc:          svc,
		cfg:          cfg,
		provision:    provision,
		breakerState: breakerState,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/api/stats", s.handleStats)
	r.Post("/api/cleanup", s.handleCleanup)
	r.Post("/api/enforce", s.handleEnforce)
	r.Post("/api/channels", s.handleCreateChannel)
	return r
}

// Start runs the admin server until the context is canceled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("[server] shutdown: %v", err)
		}
	}()

	log.Printf("[server] admin API listening on %s", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statsResponse struct {
	LastSweeps map[string]retention.SweepStats `json:"lastSweeps"`
	Stages     map[string]string               `json:"stages"`
	Breaker    string                          `json:"breaker,omitempty"`
	Config     config.RetentionConfig          `json:"config"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		LastSweeps: s.svc.LastSweeps(),
		Stages:     make(map[string]string),
		Config:     s.cfg.Retention,
	}
	for _, category := range s.svc.Categories() {
		resp.Stages[category] = s.svc.Stage(category).String()
	}
	if s.breakerState != nil {
		resp.Breaker = s.breakerState()
	}
	writeJSON(w, http.StatusOK, resp)
}

type cleanupRequest struct {
	Category string `json:"category"`
	retention.CleanupParams
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	req := cleanupRequest{CleanupParams: retention.DefaultCleanupParams()}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.Category == "" && len(s.svc.Categories()) == 1 {
		req.Category = s.svc.Categories()[0]
	}

	stats, err := s.svc.Cleanup(r.Context(), req.Category, req.CleanupParams)
	if err != nil {
		writeSweepError(w, stats, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type enforceRequest struct {
	Category          string `json:"category"`
	PriorityRetention *bool  `json:"priorityRetention,omitempty"`
	DryRun            bool   `json:"dryRun"`
}

func (s *Server) handleEnforce(w http.ResponseWriter, r *http.Request) {
	var req enforceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.Category == "" && len(s.svc.Categories()) == 1 {
		req.Category = s.svc.Categories()[0]
	}
	priority := true
	if req.PriorityRetention != nil {
		priority = *req.PriorityRetention
	}

	stats, err := s.svc.EnforceCapacity(r.Context(), req.Category, priority, req.DryRun)
	if err != nil {
		writeSweepError(w, stats, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type createChannelRequest struct {
	Category  string     `json:"category"`
	Name      string     `json:"name"`
	EventTime *time.Time `json:"eventTime,omitempty"`
	Topic     string     `json:"topic,omitempty"`
}

func (s *Server) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	var req createChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.Category == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("category and name are required"))
		return
	}

	meta, err := s.provision.CreateChannel(r.Context(), req.Category, req.Name, req.EventTime, req.Topic)
	if err != nil {
		status := http.StatusBadGateway
		var apiErr *platform.APIError
		if errors.As(err, &apiErr) && apiErr.Kind == platform.KindValidation {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusCreated, meta)
}

// writeSweepError maps engine errors onto HTTP statuses. Aggregate counts
// plus the bounded error sample go out; internals stay in the logs.
func writeSweepError(w http.ResponseWriter, stats retention.SweepStats, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, retention.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, retention.ErrInventory), errors.Is(err, platform.ErrUnavailable):
		status = http.StatusBadGateway
	case errors.Is(err, context.Canceled):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"error": err.Error(),
		"stats": stats,
	})
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[server] encode response: %v", err)
	}
}
