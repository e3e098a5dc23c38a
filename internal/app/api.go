package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cam3ron2/gitstats-report/internal/activity"
	"github.com/cam3ron2/gitstats-report/internal/comparative"
	"github.com/cam3ron2/gitstats-report/internal/githubapi"
	"github.com/cam3ron2/gitstats-report/internal/report"
	"github.com/cam3ron2/gitstats-report/internal/store"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const defaultArchiveListLimit = 20

// ReportAPI is the report surface served over HTTP. *report.Service implements it.
type ReportAPI interface {
	BuildReport(ctx context.Context, owner string, period comparative.Period) (report.Report, error)
	BuildEmailReport(ctx context.Context, owner string, period comparative.Period) (report.Report, error)
	RepositoryStats(ctx context.Context, owner, repo string, period comparative.Period) (*report.StatsResult, error)
	PullRequestActivity(ctx context.Context, owner string, period comparative.Period) ([]activity.RepoActivity, error)
	AllCommits(ctx context.Context, owner string, period comparative.Period) ([]report.RepoCommits, error)
	BuildSummary(ctx context.Context, owner string, period comparative.Period) (report.Summary, error)
}

// RunArchive reads archived reports. *store.PostgresArchive implements it.
type RunArchive interface {
	ListRuns(ctx context.Context, owner string, limit int) ([]store.RunRecord, error)
	LoadReport(ctx context.Context, runID string) (report.Report, error)
}

type envelope struct {
	Message any `json:"message"`
}

type apiHandler struct {
	reports ReportAPI
	archive RunArchive
	now     func() time.Time
	logger  *zap.Logger
}

// NewAPIHandler routes the report API. A nil archive answers archive routes with 503.
func NewAPIHandler(reports ReportAPI, archive RunArchive, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &apiHandler{
		reports: reports,
		archive: archive,
		now:     time.Now,
		logger:  logger,
	}

	router := chi.NewRouter()
	router.Route("/owners/{owner}", func(r chi.Router) {
		r.Get("/report", h.withPeriod(func(w http.ResponseWriter, r *http.Request, owner string, period comparative.Period) {
			rep, err := h.reports.BuildReport(r.Context(), owner, period)
			h.respond(w, r, rep, err)
		}))
		r.Get("/email-report", h.withPeriod(func(w http.ResponseWriter, r *http.Request, owner string, period comparative.Period) {
			rep, err := h.reports.BuildEmailReport(r.Context(), owner, period)
			if err != nil {
				h.respond(w, r, nil, err)
				return
			}
			h.respond(w, r, struct {
				Report report.Report `json:"report"`
				Digest report.Digest `json:"digest"`
			}{Report: rep, Digest: report.NewDigest(rep)}, nil)
		}))
		r.Get("/repos/{repo}/stats", h.withPeriod(func(w http.ResponseWriter, r *http.Request, owner string, period comparative.Period) {
			result, err := h.reports.RepositoryStats(r.Context(), owner, chi.URLParam(r, "repo"), period)
			h.respond(w, r, result, err)
		}))
		r.Get("/pr-activity", h.withPeriod(func(w http.ResponseWriter, r *http.Request, owner string, period comparative.Period) {
			result, err := h.reports.PullRequestActivity(r.Context(), owner, period)
			h.respond(w, r, result, err)
		}))
		r.Get("/commits", h.withPeriod(func(w http.ResponseWriter, r *http.Request, owner string, period comparative.Period) {
			result, err := h.reports.AllCommits(r.Context(), owner, period)
			h.respond(w, r, result, err)
		}))
		r.Get("/summary", h.withPeriod(func(w http.ResponseWriter, r *http.Request, owner string, period comparative.Period) {
			result, err := h.reports.BuildSummary(r.Context(), owner, period)
			h.respond(w, r, result, err)
		}))
		r.Get("/archive", h.listRuns)
	})
	router.Get("/archive/{runID}", h.loadRun)
	return router
}

type periodHandler func(w http.ResponseWriter, r *http.Request, owner string, period comparative.Period)

func (h *apiHandler) withPeriod(next periodHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(chi.URLParam(r, "owner"))
		if owner == "" {
			writeJSON(w, http.StatusBadRequest, envelope{Message: "owner is required"})
			return
		}
		query := r.URL.Query()
		period, err := comparative.ResolvePeriod(query.Get("previous"), query.Get("next"), h.now())
		if err != nil {
			writeJSON(w, http.StatusBadRequest, envelope{Message: err.Error()})
			return
		}
		next(w, r, owner, period)
	}
}

func (h *apiHandler) listRuns(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeJSON(w, http.StatusServiceUnavailable, envelope{Message: "report archive is not enabled"})
		return
	}
	limit := defaultArchiveListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, envelope{Message: "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	runs, err := h.archive.ListRuns(r.Context(), chi.URLParam(r, "owner"), limit)
	h.respond(w, r, runs, err)
}

func (h *apiHandler) loadRun(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeJSON(w, http.StatusServiceUnavailable, envelope{Message: "report archive is not enabled"})
		return
	}
	rep, err := h.archive.LoadReport(r.Context(), chi.URLParam(r, "runID"))
	h.respond(w, r, rep, err)
}

func (h *apiHandler) respond(w http.ResponseWriter, r *http.Request, payload any, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, envelope{Message: payload})
		return
	}

	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("api request failed", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	} else {
		h.logger.Debug("api request rejected", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, envelope{Message: err.Error()})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, store.ErrRunNotFound), githubapi.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, report.ErrAggregationInconsistency):
		return http.StatusInternalServerError
	}
	switch code := githubapi.StatusCode(err); code {
	case 0:
		return http.StatusInternalServerError
	case http.StatusUnauthorized, http.StatusForbidden:
		return code
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		return
	}
}
