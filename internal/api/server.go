// Package api serves the bridge's HTTP endpoints: the webhook the scraper
// posts results to, entry management, sensor states, health and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dpktjf/dpk-ek-scraper/internal/coordinator"
	"github.com/dpktjf/dpk-ek-scraper/internal/flight"
	"github.com/dpktjf/dpk-ek-scraper/internal/integration"
	"github.com/dpktjf/dpk-ek-scraper/internal/metrics"
	"github.com/dpktjf/dpk-ek-scraper/internal/scraper"
	"github.com/dpktjf/dpk-ek-scraper/internal/search"
	"github.com/dpktjf/dpk-ek-scraper/internal/sensor"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// maxWebhookBody bounds a scraper callback payload
const maxWebhookBody = 8 << 20

// writeGrace is how long a response may take beyond a scraper round trip
const writeGrace = 10 * time.Second

// EntryManager is the part of the integration manager the API drives
type EntryManager interface {
	Registry() *integration.Registry
	Setup(ctx context.Context, entry integration.Entry) (*integration.Runtime, error)
	Unload(ctx context.Context, entryID string) error
	UpdateOptions(ctx context.Context, entryID string, opts search.Options) (*integration.Runtime, error)
	Refresh(ctx context.Context, entryID string) error
	Fetch(ctx context.Context, entryID string) error
	HandleWebhook(ctx context.Context, webhookID string, body []byte) (bool, error)
	States() []sensor.State
}

// Server provides HTTP API endpoints for the flight scraper bridge
type Server struct {
	manager EntryManager
	metrics *metrics.Metrics
	logger  *zap.Logger
	handler http.Handler
	server  *http.Server

	scraperTimeout time.Duration
}

// Option configures a Server
type Option func(*Server)

// WithScraperTimeout sets the scraper round-trip bound. Handlers that wait on
// the scraper, like fetch, get that long plus a grace period to respond.
func WithScraperTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.scraperTimeout = d
		}
	}
}

// NewServer creates a new API server. A nil metrics disables /metrics.
func NewServer(manager EntryManager, m *metrics.Metrics, logger *zap.Logger, port int, opts ...Option) *Server {
	s := &Server{
		manager:        manager,
		metrics:        m,
		logger:         logger.Named("api"),
		scraperTimeout: scraper.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleSitemap)
	mux.HandleFunc("POST /api/webhook/{webhook_id}", s.handleWebhook)
	mux.HandleFunc("GET /api/entries", s.handleListEntries)
	mux.HandleFunc("POST /api/entries", s.handleCreateEntry)
	mux.HandleFunc("GET /api/entries/{id}", s.handleGetEntry)
	mux.HandleFunc("DELETE /api/entries/{id}", s.handleDeleteEntry)
	mux.HandleFunc("PUT /api/entries/{id}/options", s.handleUpdateOptions)
	mux.HandleFunc("POST /api/entries/{id}/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/entries/{id}/fetch", s.handleFetch)
	mux.HandleFunc("GET /api/sensors", s.handleSensors)
	mux.HandleFunc("/health", s.handleHealth)
	if m != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	}
	s.handler = mux

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: s.scraperTimeout + writeGrace,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the server's routes
func (s *Server) Handler() http.Handler {
	return s.handler
}

// EntryView is an entry together with the search it runs and its status
type EntryView struct {
	integration.Entry
	Effective search.Config        `json:"effective"`
	Status    coordinator.Snapshot `json:"status"`
}

func viewOf(rt *integration.Runtime) EntryView {
	return EntryView{
		Entry:     rt.Entry,
		Effective: rt.Search,
		Status:    rt.Coordinator.Snapshot(),
	}
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

// statusFor maps manager errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, integration.ErrUnknownEntry), errors.Is(err, integration.ErrUnknownWebhook):
		return http.StatusNotFound
	case errors.Is(err, integration.ErrAlreadyConfigured):
		return http.StatusConflict
	case errors.Is(err, search.ErrInvalid), errors.Is(err, flight.ErrMalformed):
		return http.StatusBadRequest
	case errors.Is(err, integration.ErrNotReady):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// handleWebhook accepts a pushed scrape result. A result for another job
// is still answered with 200.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	webhookID := r.PathValue("webhook_id")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}

	accepted, err := s.manager.HandleWebhook(r.Context(), webhookID, body)
	if err != nil {
		s.logger.Warn("Webhook rejected",
			zap.String("webhook_id", webhookID),
			zap.Error(err))
		s.writeError(w, statusFor(err), err)
		return
	}

	s.logger.Debug("Webhook served",
		zap.String("webhook_id", webhookID),
		zap.Bool("accepted", accepted))
	s.writeJSON(w, http.StatusOK, map[string]bool{"accepted": accepted})
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	runtimes := s.manager.Registry().List()
	views := make([]EntryView, 0, len(runtimes))
	for _, rt := range runtimes {
		views = append(views, viewOf(rt))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.manager.Registry().Get(r.PathValue("id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("%w: %q", integration.ErrUnknownEntry, r.PathValue("id")))
		return
	}
	s.writeJSON(w, http.StatusOK, viewOf(rt))
}

// handleCreateEntry is the config flow: validate, reject duplicates and set
// the entry up
func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	var entry integration.Entry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode entry: %w", err))
		return
	}

	rt, err := s.manager.Setup(r.Context(), entry)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	s.logger.Info("Entry created",
		zap.String("entry", rt.Entry.ID),
		zap.String("remote_addr", r.RemoteAddr))
	s.writeJSON(w, http.StatusCreated, viewOf(rt))
}

// handleUpdateOptions is the options flow: merge and reload
func (s *Server) handleUpdateOptions(w http.ResponseWriter, r *http.Request) {
	var opts search.Options
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode options: %w", err))
		return
	}

	rt, err := s.manager.UpdateOptions(r.Context(), r.PathValue("id"), opts)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, viewOf(rt))
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Unload(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	err := s.manager.Refresh(r.Context(), r.PathValue("id"))
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
	case errors.Is(err, integration.ErrUnknownEntry):
		s.writeError(w, http.StatusNotFound, err)
	default:
		s.writeError(w, http.StatusBadGateway, err)
	}
}

// handleFetch polls the scraper and returns the entry with the new result
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.manager.Fetch(r.Context(), id)
	switch {
	case err == nil:
	case errors.Is(err, integration.ErrUnknownEntry):
		s.writeError(w, http.StatusNotFound, err)
		return
	default:
		s.writeError(w, http.StatusBadGateway, err)
		return
	}

	rt, ok := s.manager.Registry().Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("%w: %q", integration.ErrUnknownEntry, id))
		return
	}
	s.writeJSON(w, http.StatusOK, viewOf(rt))
}

func (s *Server) handleSensors(w http.ResponseWriter, r *http.Request) {
	states := s.manager.States()
	if states == nil {
		states = []sensor.State{}
	}
	s.writeJSON(w, http.StatusOK, states)
}

// handleHealth returns a simple health check response
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"entries": s.manager.Registry().Len(),
	})
}

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

var endpoints = []Endpoint{
	{Path: "/", Method: "GET", Description: "This sitemap - lists all available API endpoints"},
	{Path: "/api/webhook/{webhook_id}", Method: "POST", Description: "Scraper result callback"},
	{Path: "/api/entries", Method: "GET", Description: "List configured searches with their status"},
	{Path: "/api/entries", Method: "POST", Description: "Add a search"},
	{Path: "/api/entries/{id}", Method: "GET", Description: "Show one search"},
	{Path: "/api/entries/{id}", Method: "DELETE", Description: "Remove a search and its sensors"},
	{Path: "/api/entries/{id}/options", Method: "PUT", Description: "Change a search's options and reload it"},
	{Path: "/api/entries/{id}/refresh", Method: "POST", Description: "Trigger a scrape now"},
	{Path: "/api/entries/{id}/fetch", Method: "POST", Description: "Poll the scraper and wait for the result"},
	{Path: "/api/sensors", Method: "GET", Description: "Current flight sensor states"},
	{Path: "/health", Method: "GET", Description: "Health check endpoint - returns {\"status\": \"ok\"}"},
	{Path: "/metrics", Method: "GET", Description: "Prometheus metrics"},
}

// handleSitemap returns a list of all available API endpoints
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	// Only handle requests to the root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	preferHTML := strings.Contains(r.Header.Get("Accept"), "text/html")

	if preferHTML {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head>
    <title>EK Scraper Bridge</title>
    <style>
        body { font-family: monospace; margin: 40px; background: #1e1e1e; color: #d4d4d4; }
        h1 { color: #4ec9b0; }
        .endpoint { background: #2d2d2d; padding: 15px; margin: 10px 0; border-left: 3px solid #007acc; }
        .method { color: #4ec9b0; font-weight: bold; }
        .path { color: #ce9178; }
        .description { color: #9cdcfe; margin-top: 5px; }
    </style>
</head>
<body>
    <h1>EK Scraper Bridge</h1>
`)
		for _, ep := range endpoints {
			fmt.Fprintf(w, `    <div class="endpoint">
        <div><span class="method">%s</span> <span class="path">%s</span></div>
        <div class="description">%s</div>
    </div>
`, ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprint(w, "</body>\n</html>\n")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "EK Scraper Bridge\n")
		fmt.Fprintf(w, "=================\n\n")
		fmt.Fprintf(w, "Available endpoints:\n\n")
		for _, ep := range endpoints {
			fmt.Fprintf(w, "  %-8s %-28s %s\n", ep.Method, ep.Path, ep.Description)
		}
	}

	s.logger.Debug("Sitemap request served",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Bool("html_format", preferHTML))
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
