package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"glossa/internal/api"
	"glossa/internal/config"
	"glossa/internal/logging"
	"glossa/internal/metrics"
	"glossa/internal/services"
	"glossa/internal/store"
	"glossa/internal/task"
)

// HeaderRequestID carries the correlation id echoed on every API response.
const HeaderRequestID = "X-Request-Id"

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(cfg.Paths.APIBind),
		logger: logger.With(logging.String(logging.FieldComponent, "api")),
		daemon: d,
	}

	r := chi.NewRouter()
	r.Use(requestLogger(srv.logger))
	r.Get("/healthz", srv.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(bearerAuth(cfg.Paths.APIToken))
		r.Post("/tasks", srv.handleSubmit)
		r.Get("/tasks", srv.handleListTasks)
		r.Get("/tasks/{id}", srv.handleGetTask)
		r.Delete("/tasks/{id}", srv.handleDeleteTask)
		r.Get("/tasks/{id}/webhooks", srv.handleTaskWebhooks)
		r.Get("/queue/stats", srv.handleQueueStats)
		r.Get("/deadletters", srv.handleDeadLetters)
		r.Post("/deadletters/{id}/retry", srv.handleRequeueDeadLetter)
		r.Get("/relay/deadletters", srv.handleRelayDeadLetters)
		r.Post("/relay/deadletters/{id}/retry", srv.handleRetryRelayDeadLetter)
		r.Post("/studies/{studyID}/published", srv.handleStudyPublished)
		r.Post("/studies/{studyID}/results", srv.handleStudyResults)
	})

	srv.server = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s.listener == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *apiServer) addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := s.daemon.pool.Health(r.Context())
	report := api.HealthReport{Running: s.daemon.Running()}
	allReady := true
	for _, h := range checks {
		if !h.Ready {
			allReady = false
		}
		report.Stages = append(report.Stages, api.StageHealth{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
	}
	status := http.StatusOK
	if !allReady {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cfg := s.daemon.cfg
	if req.MaxReviewIterations == 0 {
		req.MaxReviewIterations = cfg.Pipeline.MaxReviewIterations
	}
	if req.ConfidenceThreshold == 0 {
		req.ConfidenceThreshold = cfg.Pipeline.ConfidenceThreshold
	}

	t, err := task.New(req.SourceText, req.SourceLanguage, req.Languages,
		req.Editorial, req.MaxReviewIterations, req.ConfidenceThreshold)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	if err := s.daemon.store.CreateTask(ctx, t); err != nil {
		writeError(w, http.StatusInternalServerError, "persist task")
		s.logger.Error("persist task", logging.Error(err))
		return
	}
	for _, lang := range t.Languages {
		if _, err := s.daemon.store.Enqueue(ctx, t.ID.String(), lang, store.StageTranslate, 0); err != nil {
			writeError(w, http.StatusInternalServerError, "enqueue translation")
			s.logger.Error("enqueue translation", logging.Error(err),
				logging.String(logging.FieldTaskID, t.ID.String()),
				logging.String(logging.FieldLanguage, lang))
			return
		}
	}
	metrics.TaskSubmitted()
	s.logger.Info("task submitted",
		logging.String(logging.FieldTaskID, t.ID.String()),
		logging.Int("languages", len(t.Languages)))
	writeJSON(w, http.StatusCreated, t)
}

func (s *apiServer) handleListTasks(w http.ResponseWriter, r *http.Request) {
	var statuses []task.Status
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		for _, value := range strings.Split(raw, ",") {
			status, ok := task.ParseStatus(strings.TrimSpace(value))
			if !ok {
				writeError(w, http.StatusBadRequest, "unknown status "+value)
				return
			}
			statuses = append(statuses, status)
		}
	}
	tasks, err := s.daemon.store.ListTasks(r.Context(), statuses...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list tasks")
		s.logger.Error("list tasks", logging.Error(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *apiServer) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskID(w, r)
	if !ok {
		return
	}
	t, err := s.daemon.store.GetTask(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load task")
		s.logger.Error("load task", logging.Error(err))
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *apiServer) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskID(w, r)
	if !ok {
		return
	}
	err := s.daemon.store.DeleteTask(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "delete task")
		s.logger.Error("delete task", logging.Error(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleTaskWebhooks(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskID(w, r)
	if !ok {
		return
	}
	attempts, err := s.daemon.store.WebhookAttemptsForTask(r.Context(), id.String(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list webhook attempts")
		s.logger.Error("list webhook attempts", logging.Error(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}

func (s *apiServer) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	depths, err := s.daemon.store.QueueDepths(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "queue depths")
		return
	}
	taskStats, err := s.daemon.store.TaskStats(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "task stats")
		return
	}
	letters, err := s.daemon.store.DeadLetters(ctx, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "dead letters")
		return
	}

	queue := make(map[string]int, len(depths))
	for stageName, depth := range depths {
		queue[string(stageName)] = depth
	}
	tasks := make(map[string]int, len(taskStats))
	for status, count := range taskStats {
		tasks[string(status)] = count
	}
	workers := s.daemon.pool.Stats()
	perWorker := make([]api.WorkerCounters, len(workers.PerWorker))
	for i, counters := range workers.PerWorker {
		perWorker[i] = api.WorkerCounters{
			Worker:    counters.Worker,
			Processed: counters.Processed,
			Failed:    counters.Failed,
			InFlight:  counters.InFlight,
		}
	}
	writeJSON(w, http.StatusOK, api.QueueStats{
		Queue:       queue,
		Tasks:       tasks,
		DeadLetters: len(letters),
		Workers: api.WorkerStats{
			Workers:      workers.Workers,
			Processed:    workers.Processed,
			Retried:      workers.Retried,
			DeadLettered: workers.DeadLettered,
			Reclaimed:    workers.Reclaimed,
			PerWorker:    perWorker,
		},
	})
}

func (s *apiServer) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	letters, err := s.daemon.store.DeadLetters(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list dead letters")
		s.logger.Error("list dead letters", logging.Error(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": letters})
}

func (s *apiServer) handleRequeueDeadLetter(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid dead letter id")
		return
	}
	err = s.daemon.store.RequeueDeadLetter(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "dead letter not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "requeue dead letter")
		s.logger.Error("requeue dead letter", logging.Error(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleRelayDeadLetters(w http.ResponseWriter, r *http.Request) {
	if !s.daemon.relay.Enabled() {
		writeError(w, http.StatusConflict, "relay is not configured")
		return
	}
	letters, err := s.daemon.relay.ListDeadLetters(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "list relay dead letters")
		s.logger.Error("list relay dead letters", logging.Error(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": letters})
}

func (s *apiServer) handleRetryRelayDeadLetter(w http.ResponseWriter, r *http.Request) {
	if !s.daemon.relay.Enabled() {
		writeError(w, http.StatusConflict, "relay is not configured")
		return
	}
	if err := s.daemon.relay.RetryDeadLetter(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusBadGateway, "retry relay dead letter")
		s.logger.Error("retry relay dead letter", logging.Error(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleStudyPublished(w http.ResponseWriter, r *http.Request) {
	studyID := chi.URLParam(r, "studyID")
	err := s.daemon.manager.MarkPublished(r.Context(), studyID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "study not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "mark study published")
		s.logger.Error("mark study published", logging.Error(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleStudyResults(w http.ResponseWriter, r *http.Request) {
	studyID := chi.URLParam(r, "studyID")
	var req api.StudyResults
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := s.daemon.manager.RecordResults(r.Context(), studyID, req.Results)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "study not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "record study results")
		s.logger.Error("record study results", logging.Error(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) taskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return uuid.UUID{}, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := strings.TrimSpace(r.Header.Get(HeaderRequestID))
			if requestID == "" {
				requestID = uuid.NewString()
			}
			ctx := services.WithRequestID(r.Context(), requestID)
			w.Header().Set(HeaderRequestID, requestID)

			start := time.Now()
			next.ServeHTTP(w, r.WithContext(ctx))
			logging.WithContext(ctx, logger).Debug("request",
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.Duration("elapsed", time.Since(start)))
		})
	}
}
