// Package api wires the ingestion, dashboard, and alert surfaces onto a
// plain HTTP mux. Token verification lives outside; an injected resolver
// supplies the viewer identity.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"sentra/internal/alerting"
	"sentra/internal/config"
	"sentra/internal/dashboard"
	"sentra/internal/detector"
	"sentra/internal/metrics"
	"sentra/internal/model"
	"sentra/internal/pipeline"
	"sentra/internal/schema"
	"sentra/internal/storage"
	"sentra/internal/tenant"
)

// IdentityResolver extracts the authenticated viewer from a request.
type IdentityResolver interface {
	Resolve(r *http.Request) (model.Identity, error)
}

type Server struct {
	cfg        *config.Manager
	pipeline   *pipeline.Pipeline
	dispatcher *pipeline.Dispatcher
	dashboard  *dashboard.Service
	alerting   *alerting.Service
	detector   *detector.Detector
	store      storage.Store
	stats      *metrics.Store
	identity   IdentityResolver
	logger     *slog.Logger
	version    string
}

type Options struct {
	Config     *config.Manager
	Pipeline   *pipeline.Pipeline
	Dispatcher *pipeline.Dispatcher
	Dashboard  *dashboard.Service
	Alerting   *alerting.Service
	Detector   *detector.Detector
	Store      storage.Store
	Stats      *metrics.Store
	Identity   IdentityResolver
	Logger     *slog.Logger
	Version    string
}

func NewServer(opts Options) *Server {
	return &Server{
		cfg:        opts.Config,
		pipeline:   opts.Pipeline,
		dispatcher: opts.Dispatcher,
		dashboard:  opts.Dashboard,
		alerting:   opts.Alerting,
		detector:   opts.Detector,
		store:      opts.Store,
		stats:      opts.Stats,
		identity:   opts.Identity,
		logger:     opts.Logger,
		version:    opts.Version,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/ingest", s.handleIngest)
	mux.HandleFunc("/routerlog", s.handleRouterLog)
	mux.HandleFunc("/dashboard", s.handleDashboard)
	mux.HandleFunc("/alerts", s.handleAlerts)
	mux.HandleFunc("/auth/attempt", s.handleAuthAttempt)
	mux.HandleFunc("/retention/purge", s.handlePurge)
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func Start(ctx context.Context, s *Server) *http.Server {
	current := s.cfg.Get().API
	if !current.Enabled {
		if s.logger != nil {
			s.logger.Info("api disabled")
		}
		return nil
	}
	if s.logger != nil {
		s.logger.Info("api enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{Addr: current.Addr, Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"time":    model.FormatTime(time.Now()),
		"version": s.version,
		"storage": cfg.Storage.Driver,
		"detection": map[string]any{
			"threshold": cfg.Detection.Threshold,
			"window":    cfg.Detection.Window.String(),
		},
		"ingest": s.stats.Snapshot(),
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 8<<20))
	if err != nil || len(body) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("empty or unreadable body"))
		return
	}
	var batch []schema.RawEvent
	if err := json.Unmarshal(body, &batch); err != nil {
		var single schema.RawEvent
		if err := json.Unmarshal(body, &single); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		batch = []schema.RawEvent{single}
	}
	summary, err := s.pipeline.Ingest(r.Context(), batch)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"batch_id":  summary.BatchID,
		"processed": summary.Processed,
		"saved":     summary.Saved,
		"failed":    summary.Failed,
	})
}

func (s *Server) handleRouterLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("dispatch disabled"))
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 2<<20))
	if err != nil || len(body) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("empty or unreadable body"))
		return
	}
	topic, err := s.dispatcher.Route(r.Context(), body)
	if err != nil {
		var unknown *schema.UnknownSourceError
		if errors.As(err, &unknown) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sent_to": topic})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	viewer, err := s.identity.Resolve(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	query := dashboard.Query{
		Tenant: r.URL.Query().Get("tenant"),
		Source: r.URL.Query().Get("source"),
	}
	if query.Start, err = parseTimeParam(r, "start"); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if query.End, err = parseTimeParam(r, "end"); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.dashboard.Build(r.Context(), viewer, query)
	if err != nil {
		var rangeErr *dashboard.InvalidTimeRangeError
		var tenantErr *tenant.NotFoundError
		switch {
		case errors.As(err, &rangeErr):
			writeError(w, http.StatusBadRequest, err)
		case errors.As(err, &tenantErr):
			writeError(w, http.StatusForbidden, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	viewer, err := s.identity.Resolve(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	listing, err := s.alerting.List(r.Context(), viewer)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

type authAttemptRequest struct {
	IP       string     `json:"ip"`
	Success  bool       `json:"success"`
	UserID   int64      `json:"user_id"`
	Username string     `json:"username"`
	Role     model.Role `json:"role"`
}

// handleAuthAttempt is called by the external auth layer after credential
// verification, once per login attempt.
func (s *Server) handleAuthAttempt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req authAttemptRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.IP == "" {
		writeError(w, http.StatusBadRequest, errors.New("ip required"))
		return
	}
	if req.Success {
		s.detector.RecordSuccess(req.IP)
		writeJSON(w, http.StatusOK, map[string]any{"tripped": false})
		return
	}
	tripped := s.detector.RecordFailure(req.IP)
	if !tripped {
		writeJSON(w, http.StatusOK, map[string]any{"tripped": false})
		return
	}
	subject := model.Identity{UserID: req.UserID, Username: req.Username, Role: req.Role}
	alert, err := s.alerting.RaiseBruteForce(r.Context(), req.IP, subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"tripped":  true,
		"alert_id": alert.ID,
	})
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	days := s.cfg.Get().Retention.Days
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("days must be a positive integer"))
			return
		}
		days = n
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	result, err := s.store.PurgeOlderThan(r.Context(), cutoff)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"cutoff":         model.FormatTime(cutoff),
		"logs_deleted":   result.EventsDeleted,
		"alerts_deleted": result.AlertsDeleted,
	})
}

func parseTimeParam(r *http.Request, key string) (*time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := schema.ParseTimestamp(v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"status": "error", "message": err.Error()})
}
