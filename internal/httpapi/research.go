package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/deepresearch/internal/archive"
	"github.com/Kocoro-lab/deepresearch/internal/db"
	"github.com/Kocoro-lab/deepresearch/internal/launcher"
	"github.com/Kocoro-lab/deepresearch/internal/research"
	"github.com/Kocoro-lab/deepresearch/internal/util"
)

// Store is the job persistence the API reads and writes.
type Store interface {
	CreateJob(ctx context.Context, job *research.Job) error
	GetJob(ctx context.Context, id string) (*research.Job, error)
	ListJobs(ctx context.Context, opts db.ListOptions) ([]research.Job, error)
	StatusHistory(ctx context.Context, jobID string) ([]research.StatusEvent, error)
	DeleteJob(ctx context.Context, id string) error
}

// Clarifier generates pre-research questions and listing titles.
type Clarifier interface {
	Questions(ctx context.Context, query string) ([]string, error)
	Title(ctx context.Context, query string) string
}

// Reports reads and removes archived reports. Optional.
type Reports interface {
	GetReport(ctx context.Context, jobID string) (string, error)
	DeleteReport(ctx context.Context, jobID string) error
}

// Defaults apply to create requests that omit a budget.
type Defaults struct {
	Breadth int
	Depth   int
}

// ResearchHandler serves the job lifecycle API under /api/research.
type ResearchHandler struct {
	store     Store
	launcher  launcher.Launcher
	clarifier Clarifier
	reports   Reports
	streams   Streams
	defaults  Defaults
	logger    *zap.Logger
}

// NewResearchHandler builds the handler. reports may be nil.
func NewResearchHandler(store Store, l launcher.Launcher, clarifier Clarifier, reports Reports, streams Streams, defaults Defaults, logger *zap.Logger) *ResearchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResearchHandler{
		store:     store,
		launcher:  l,
		clarifier: clarifier,
		reports:   reports,
		streams:   streams,
		defaults:  defaults,
		logger:    logger,
	}
}

// RegisterRoutes registers the research routes on mux.
func (h *ResearchHandler) RegisterRoutes(mux *http.ServeMux) {
	handle := func(pattern, route string, fn http.HandlerFunc) {
		mux.Handle(pattern, instrument(route, fn))
	}
	handle("POST /api/research/questions", "questions", h.handleQuestions)
	handle("POST /api/research", "create", h.handleCreate)
	handle("GET /api/research", "list", h.handleList)
	handle("GET /api/research/{id}", "get", h.handleGet)
	handle("GET /api/research/{id}/status", "status", h.handleStatus)
	handle("GET /api/research/{id}/report.md", "report", h.handleReport)
	handle("POST /api/research/{id}/rerun", "rerun", h.handleRerun)
	handle("DELETE /api/research/{id}", "delete", h.handleDelete)
	handle("GET /api/research/{id}/stream", "stream", h.handleSSE)
	handle("GET /api/research/{id}/ws", "ws", h.handleWS)
}

type questionsRequest struct {
	Query string `json:"query"`
}

func (h *ResearchHandler) handleQuestions(w http.ResponseWriter, r *http.Request) {
	var req questionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()
	questions, err := h.clarifier.Questions(ctx, req.Query)
	if err != nil {
		h.logger.Warn("Clarifying questions failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to generate questions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"questions": questions})
}

type createRequest struct {
	Query            string        `json:"query"`
	Owner            string        `json:"owner,omitempty"`
	Questions        []research.QA `json:"questions,omitempty"`
	Breadth          *int          `json:"breadth,omitempty"`
	Depth            *int          `json:"depth,omitempty"`
	InitialLearnings string        `json:"initial_learnings,omitempty"`
	WebSearch        *bool         `json:"web_search,omitempty"`
	IndexID          string        `json:"index_id,omitempty"`
}

func (h *ResearchHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query required")
		return
	}
	job := research.Job{
		Owner:            req.Owner,
		Query:            req.Query,
		Questions:        req.Questions,
		Breadth:          h.defaults.Breadth,
		Depth:            h.defaults.Depth,
		InitialLearnings: req.InitialLearnings,
		WebSearch:        true,
		IndexID:          req.IndexID,
	}
	if req.Breadth != nil {
		job.Breadth = *req.Breadth
	}
	if req.Depth != nil {
		job.Depth = *req.Depth
	}
	if req.WebSearch != nil {
		job.WebSearch = *req.WebSearch
	}
	if job.Breadth < 0 || job.Depth < 0 {
		writeError(w, http.StatusBadRequest, research.ErrInvalidBudget.Error())
		return
	}
	if !job.WebSearch && job.IndexID == "" {
		writeError(w, http.StatusBadRequest, "web_search or index_id required")
		return
	}

	created, err := h.start(r.Context(), job)
	if err != nil {
		h.writeStoreError(w, "create", err)
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

// start titles, persists and launches job.
func (h *ResearchHandler) start(ctx context.Context, job research.Job) (*research.Job, error) {
	if job.Title == "" && h.clarifier != nil {
		titleCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		job.Title = h.clarifier.Title(titleCtx, job.Query)
		cancel()
	}
	if err := h.store.CreateJob(ctx, &job); err != nil {
		return nil, err
	}
	if err := h.launcher.Launch(context.WithoutCancel(ctx), job); err != nil {
		return nil, fmt.Errorf("launch: %w", err)
	}
	job.Status = research.StatusRunning
	h.logger.Info("Research job launched",
		zap.String("job_id", job.ID),
		zap.String("launcher", h.launcher.Name()),
		zap.Int("breadth", job.Breadth),
		zap.Int("depth", job.Depth))
	return &job, nil
}

type jobListing struct {
	research.Job
	DurationText string `json:"duration_text,omitempty"`
	CreatedAgo   string `json:"created_ago"`
}

func (h *ResearchHandler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := db.ListOptions{Owner: q.Get("owner")}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		opts.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil {
		opts.Offset = v
	}
	jobs, err := h.store.ListJobs(r.Context(), opts)
	if err != nil {
		h.writeStoreError(w, "list", err)
		return
	}
	now := time.Now()
	out := make([]jobListing, 0, len(jobs))
	for _, j := range jobs {
		l := jobListing{Job: j, CreatedAgo: util.TimeAgo(j.CreatedAt, now)}
		if j.Duration > 0 {
			l.DurationText = util.FormatDuration(j.Duration)
		}
		out = append(out, l)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": out, "count": len(out)})
}

func (h *ResearchHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeStoreError(w, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *ResearchHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := h.store.GetJob(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, "status", err)
		return
	}
	events, err := h.store.StatusHistory(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, "status", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id": id,
		"status": job.Status,
		"events": events,
	})
}

// handleReport serves the markdown report, from the archive when it has one.
func (h *ResearchHandler) handleReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var report string
	if h.reports != nil {
		text, err := h.reports.GetReport(r.Context(), id)
		switch {
		case err == nil:
			report = text
		case !errors.Is(err, archive.ErrNotFound):
			h.logger.Warn("Archive read failed, using database copy", zap.String("job_id", id), zap.Error(err))
		}
	}
	if report == "" {
		job, err := h.store.GetJob(r.Context(), id)
		if err != nil {
			h.writeStoreError(w, "report", err)
			return
		}
		if job.Status != research.StatusCompleted {
			writeError(w, http.StatusConflict, "report not available: job is "+string(job.Status))
			return
		}
		report = job.Result
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="research-%s.md"`, id))
	_, _ = w.Write([]byte(report))
}

func (h *ResearchHandler) handleRerun(w http.ResponseWriter, r *http.Request) {
	prev, err := h.store.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeStoreError(w, "rerun", err)
		return
	}
	job := research.Job{
		Owner:            prev.Owner,
		Title:            prev.Title,
		Query:            prev.Query,
		Questions:        prev.Questions,
		Depth:            prev.Depth,
		Breadth:          prev.Breadth,
		InitialLearnings: prev.InitialLearnings,
		WebSearch:        prev.WebSearch,
		IndexID:          prev.IndexID,
	}
	created, err := h.start(r.Context(), job)
	if err != nil {
		h.writeStoreError(w, "rerun", err)
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

// handleDelete stops the job if it is running here, then removes every
// trace of it.
func (h *ResearchHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := r.Context()
	if _, err := h.store.GetJob(ctx, id); err != nil {
		h.writeStoreError(w, "delete", err)
		return
	}
	if err := h.launcher.Cancel(ctx, id); err != nil && !errors.Is(err, launcher.ErrNotRunning) {
		h.logger.Warn("Cancel before delete failed", zap.String("job_id", id), zap.Error(err))
	}
	if err := h.store.DeleteJob(ctx, id); err != nil {
		h.writeStoreError(w, "delete", err)
		return
	}
	if h.streams != nil {
		if err := h.streams.Delete(ctx, id); err != nil {
			h.logger.Warn("Stream cleanup failed", zap.String("job_id", id), zap.Error(err))
		}
	}
	if h.reports != nil {
		if err := h.reports.DeleteReport(ctx, id); err != nil {
			h.logger.Warn("Archive cleanup failed", zap.String("job_id", id), zap.Error(err))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ResearchHandler) writeStoreError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, db.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "research job not found")
		return
	}
	h.logger.Error("Research API request failed", zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusInternalServerError, sanitizeErr(err.Error()))
}

// writeJSON writes a JSON response with status and content-type.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// sanitizeErr trims error messages for client output (UTF-8 safe).
func sanitizeErr(s string) string {
	runes := []rune(s)
	if len(runes) > 200 {
		return string(runes[:200])
	}
	return s
}
