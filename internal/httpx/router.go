package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sitelift/sitelift/internal/domain"
	"github.com/sitelift/sitelift/internal/events"
	"github.com/sitelift/sitelift/internal/service/job"
	"github.com/sitelift/sitelift/internal/service/session"
	"github.com/sitelift/sitelift/internal/ws"
)

const sessionHeader = "X-Session-ID"

const (
	rateWindowDefault     = time.Minute
	rateWindowRealtime    = 30 * time.Second
	rateLimitSessionWrite = 30
	rateLimitSubmit       = 12
	rateLimitJobRead      = 120
	rateLimitDeploy       = 30
	rateLimitPreviewServe = 600
	rateLimitWebsocket    = 30
	healthCheckTimeout    = 2 * time.Second
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	sessions session.Service
	jobs     job.Service
	events   events.Service
	upgrader websocket.Upgrader
	limiter  RateLimiter
	dbHealth func(context.Context) error
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, sessionSvc session.Service, jobSvc job.Service, eventSvc events.Service, limiter RateLimiter, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger,
		sessions: sessionSvc,
		jobs:     jobSvc,
		events:   eventSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  limiter,
		dbHealth: dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/sessions", r.audit("/sessions", r.withRateLimit("/sessions", rateLimitSessionWrite, rateWindowDefault, rateLimitKeyIP, r.handleSessions)))
	r.mux.HandleFunc("/sessions/", r.audit("/sessions/{id}", r.withRateLimit("/sessions/{id}", rateLimitSessionWrite, rateWindowDefault, rateLimitKeyIP, r.handleSessionSubroutes)))
	r.mux.HandleFunc("/jobs", r.audit("/jobs", r.withRateLimit("/jobs", rateLimitSubmit, rateWindowDefault, rateLimitKeySession, r.handleJobs)))
	r.mux.HandleFunc("/jobs/", r.audit("/jobs/{id}", r.withRateLimit("/jobs/{id}", rateLimitJobRead, rateWindowDefault, rateLimitKeySession, r.handleJobSubroutes)))
	r.mux.HandleFunc("/preview/", r.audit("/preview/{token}", r.withRateLimit("/preview/{token}", rateLimitPreviewServe, rateWindowDefault, rateLimitKeyIP, r.handlePreview)))
	r.mux.HandleFunc("/artifacts/", r.audit("/artifacts/{ref}", r.withRateLimit("/artifacts/{ref}", rateLimitJobRead, rateWindowDefault, rateLimitKeySession, r.handleArtifacts)))
	r.mux.HandleFunc("/ws/jobs/", r.audit("/ws/jobs/{id}/events", r.withRateLimit("/ws/jobs/{id}/events", rateLimitWebsocket, rateWindowRealtime, rateLimitKeyIP, r.handleJobEventsWS)))
}

// jobResponse is the public projection of a job record.
type jobResponse struct {
	ID               string    `json:"job_id"`
	SessionID        string    `json:"session_id"`
	Task             string    `json:"task"`
	Round            int       `json:"round"`
	Title            string    `json:"title,omitempty"`
	Checks           []string  `json:"checks,omitempty"`
	Status           string    `json:"status"`
	ArtifactRef      string    `json:"artifact_ref,omitempty"`
	RepoName         string    `json:"repo_name,omitempty"`
	RepoVisibility   string    `json:"repo_visibility"`
	RepoFullName     string    `json:"repo_full_name,omitempty"`
	RepoURL          string    `json:"repo_url,omitempty"`
	PagesURL         string    `json:"pages_url,omitempty"`
	CommitSHA        string    `json:"commit_sha,omitempty"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	EvaluationStatus string    `json:"evaluation_status,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func toJobResponse(j *domain.Job) jobResponse {
	return jobResponse{
		ID:               j.ID,
		SessionID:        j.SessionID,
		Task:             j.Task,
		Round:            j.Round,
		Title:            j.Title,
		Checks:           j.Checks,
		Status:           j.Status,
		ArtifactRef:      j.ArtifactRef,
		RepoName:         j.RepoName,
		RepoVisibility:   j.RepoVisibility,
		RepoFullName:     j.RepoFullName,
		RepoURL:          j.RepoURL,
		PagesURL:         j.PagesURL,
		CommitSHA:        j.CommitSHA,
		ErrorMessage:     j.ErrorMessage,
		EvaluationStatus: j.EvaluationStatus,
		CreatedAt:        j.CreatedAt,
		UpdatedAt:        j.UpdatedAt,
	}
}

type eventResponse struct {
	ID        int64  `json:"id"`
	JobID     string `json:"job_id"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

func toEventResponse(e domain.Event) eventResponse {
	return eventResponse{
		ID:        e.ID,
		JobID:     e.JobID,
		Level:     e.Level,
		Message:   e.Message,
		CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (r *Router) handleSessions(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		SessionID string `json:"session_id"`
	}
	if req.Body != nil && req.ContentLength != 0 {
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	id, created, err := r.sessions.Ensure(req.Context(), strings.TrimSpace(payload.SessionID))
	if err != nil {
		respondError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"session_id": id, "created": created})
}

func (r *Router) handleSessionSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/sessions/")
	parts := strings.Split(trimmed, "/")
	sessionID := parts[0]
	if sessionID == "" {
		r.notFound(w)
		return
	}
	switch {
	case len(parts) == 1:
		if req.Method != http.MethodDelete {
			r.methodNotAllowed(w)
			return
		}
		if err := r.sessions.Delete(req.Context(), sessionID); err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	case len(parts) == 2 && parts[1] == "integrations":
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		state, err := r.sessions.Integrations(req.Context(), sessionID)
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
	case len(parts) == 3 && parts[1] == "credentials":
		r.handleSessionCredentials(w, req, sessionID, parts[2])
	default:
		r.notFound(w)
	}
}

func (r *Router) handleSessionCredentials(w http.ResponseWriter, req *http.Request, sessionID, kind string) {
	if req.Method != http.MethodPut {
		r.methodNotAllowed(w)
		return
	}
	switch kind {
	case "llm":
		var payload domain.LLMCredentials
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		stored, err := r.sessions.ConnectLLM(req.Context(), sessionID, payload)
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{
			"status":   "stored",
			"provider": stored.Provider,
			"model":    stored.Model,
		})
	case "github":
		var payload domain.GitHubCredentials
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := r.sessions.ConnectGitHub(req.Context(), sessionID, payload); err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{
			"status":   "stored",
			"username": payload.Username,
		})
	default:
		r.notFound(w)
	}
}

func (r *Router) handleJobs(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	sessionID := strings.TrimSpace(req.Header.Get(sessionHeader))
	var payload job.SubmitRequest
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	created, err := r.jobs.Submit(req.Context(), sessionID, payload)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toJobResponse(created))
}

func (r *Router) handleJobSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/jobs/")
	parts := strings.Split(trimmed, "/")
	jobID := parts[0]
	if jobID == "" {
		r.notFound(w)
		return
	}
	switch {
	case len(parts) == 1:
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		found, err := r.jobs.Get(req.Context(), jobID)
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toJobResponse(found))
	case len(parts) == 2 && parts[1] == "events":
		r.handleJobEvents(w, req, jobID)
	case len(parts) == 2 && parts[1] == "deploy":
		if req.Method != http.MethodPost {
			r.methodNotAllowed(w)
			return
		}
		if err := r.jobs.RequestDeploy(req.Context(), jobID); err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": domain.StatusDeploying})
	case len(parts) == 2 && parts[1] == "preview":
		if req.Method != http.MethodPost {
			r.methodNotAllowed(w)
			return
		}
		lease, err := r.jobs.Preview(req.Context(), jobID)
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"token":       lease.Token,
			"preview_url": lease.URL,
			"expires_at":  lease.ExpiresAt.UTC().Format(time.RFC3339Nano),
		})
	default:
		r.notFound(w)
	}
}

func (r *Router) handleJobEvents(w http.ResponseWriter, req *http.Request, jobID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	after, _ := strconv.ParseInt(req.URL.Query().Get("after"), 10, 64)
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	list, err := r.jobs.Events(req.Context(), jobID, after, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	out := make([]eventResponse, 0, len(list))
	nextAfter := after
	for _, event := range list {
		out = append(out, toEventResponse(event))
		nextAfter = event.ID
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out, "next_after": nextAfter})
}

func (r *Router) handlePreview(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	trimmed := strings.TrimPrefix(req.URL.Path, "/preview/")
	token, rest, _ := strings.Cut(trimmed, "/")
	if token == "" {
		r.notFound(w)
		return
	}
	content, contentType, err := r.jobs.ServePreview(req.Context(), token, rest)
	if err != nil {
		respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

func (r *Router) handleArtifacts(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	ref := strings.TrimPrefix(req.URL.Path, "/artifacts/")
	if ref == "" || strings.Contains(ref, "/") {
		r.notFound(w)
		return
	}
	data, err := r.jobs.Artifact(req.Context(), ref)
	if err != nil {
		respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+ref+`.zip"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (r *Router) handleJobEventsWS(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/ws/jobs/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "events" {
		r.notFound(w)
		return
	}
	jobID := parts[0]
	after, _ := strconv.ParseInt(req.URL.Query().Get("after"), 10, 64)
	// Existence is checked before the upgrade so lookup failures can
	// still surface as plain HTTP errors.
	if _, err := r.jobs.Get(req.Context(), jobID); err != nil {
		respondError(w, err)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	// Register before reading the backlog: anything appended after the
	// read started is either in the read result or queued on the gated
	// client, so the stream has no gap between replay and live delivery.
	client := ws.NewClient(conn, r.logger)
	r.events.Hub().Register(jobID, client)
	teardown := func() {
		r.events.Hub().Unregister(jobID, client)
		client.Close()
	}
	backlog, err := r.jobs.Events(req.Context(), jobID, after, 500)
	if err != nil {
		teardown()
		return
	}
	for _, event := range backlog {
		payload, err := events.MarshalEvent(event)
		if err != nil {
			continue
		}
		if err := client.Replay(payload); err != nil {
			teardown()
			return
		}
	}
	if err := client.Release(); err != nil {
		teardown()
		return
	}
	go func() {
		defer teardown()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if sessionID := strings.TrimSpace(req.Header.Get(sessionHeader)); sessionID != "" {
			fields = append(fields, "session_id", sessionID)
		}
		recordRequestMetrics(req.Method, route, status, duration)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack keeps websocket upgrades working behind the recorder.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
