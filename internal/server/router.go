package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"repscore/internal/achievement"
	"repscore/internal/catalog"
	"repscore/internal/condition"
	"repscore/internal/score"
)

const (
	adminTokenHeader = "X-Admin-Token"
	maxBodyBytes     = 1 << 20
	maxBulkItems     = 1000
)

// Calculator scores activities.
type Calculator interface {
	Calculate(ctx context.Context, in score.Input) score.Result
	CalculateBulk(ctx context.Context, inputs []score.Input) []score.Result
}

// Catalog serves and reloads definitions.
type Catalog interface {
	Snapshot() *catalog.Snapshot
	Reload(ctx context.Context) (catalog.ReloadReport, error)
}

// ResultsHistory returns recent results of a user.
type ResultsHistory interface {
	Get(userID string) ([]score.Result, bool)
}

// Achievements evaluates and lists user achievements.
type Achievements interface {
	Check(ctx context.Context, userID string, frame condition.Frame) ([]achievement.Unlock, error)
	Unlocked(ctx context.Context, userID string) ([]string, error)
}

// CacheState reports whether the cache layer runs on its fallback.
type CacheState interface {
	Degraded() bool
}

// ApiV1Router manages routes for API version 1.
type ApiV1Router struct {
	calculator   Calculator
	catalog      Catalog
	history      ResultsHistory
	achievements Achievements
	cache        CacheState
	// metrics serves /metrics when set.
	metrics    http.Handler
	adminToken string
}

type reloadResponse struct {
	Success    bool                  `json:"success"`
	Generation uint64                `json:"generation,omitempty"`
	Counts     *catalog.ReloadReport `json:"counts,omitempty"`
	Error      string                `json:"error,omitempty"`
	Problems   []string              `json:"problems,omitempty"`
}

type healthResponse struct {
	Status        string `json:"status"`
	Generation    uint64 `json:"generation"`
	CacheDegraded bool   `json:"cacheDegraded"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Mux returns a configured *http.ServeMux with registered handlers.
func (ar *ApiV1Router) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", ar.healthHandler)
	mux.HandleFunc("POST /api/v1/calculate", ar.calculateHandler)
	mux.HandleFunc("POST /api/v1/calculate/bulk", ar.bulkHandler)
	mux.HandleFunc("GET /api/v1/exercises", ar.exercisesHandler)
	mux.HandleFunc("GET /api/v1/rules", ar.rulesHandler)
	mux.HandleFunc("GET /api/v1/achievements", ar.achievementsHandler)
	mux.HandleFunc("POST /api/v1/config/reload", ar.adminOnly(ar.reloadHandler))
	mux.HandleFunc("GET /api/v1/users/{id}/results", ar.resultsHandler)
	mux.HandleFunc("GET /api/v1/users/{id}/achievements", ar.unlockedHandler)
	mux.HandleFunc("POST /api/v1/users/{id}/achievements/check", ar.checkHandler)

	if ar.metrics != nil {
		mux.Handle("GET /metrics", ar.metrics)
	}

	return mux
}

// healthHandler reports the live definitions generation and the cache
// mode. A degraded cache still serves requests.
func (ar *ApiV1Router) healthHandler(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Generation: ar.catalog.Snapshot().Generation}
	if ar.cache != nil && ar.cache.Degraded() {
		resp.Status = "degraded"
		resp.CacheDegraded = true
	}
	writeJSON(w, http.StatusOK, resp)
}

// calculateHandler scores one activity. Calculation failures are part of
// the result, so any decodable request gets 200.
func (ar *ApiV1Router) calculateHandler(w http.ResponseWriter, r *http.Request) {
	var in score.Input
	if !decodeBody(w, r, &in) {
		return
	}
	writeJSON(w, http.StatusOK, ar.calculator.Calculate(r.Context(), in))
}

func (ar *ApiV1Router) bulkHandler(w http.ResponseWriter, r *http.Request) {
	var inputs []score.Input
	if !decodeBody(w, r, &inputs) {
		return
	}
	if len(inputs) > maxBulkItems {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "too many items"})
		return
	}
	writeJSON(w, http.StatusOK, ar.calculator.CalculateBulk(r.Context(), inputs))
}

func (ar *ApiV1Router) exercisesHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ar.catalog.Snapshot().Exercises())
}

func (ar *ApiV1Router) rulesHandler(w http.ResponseWriter, r *http.Request) {
	ruleType := catalog.RuleType(r.URL.Query().Get("type"))
	switch ruleType {
	case "", catalog.RuleBonus, catalog.RuleMultiplier:
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown rule type"})
		return
	}
	writeJSON(w, http.StatusOK, ar.catalog.Snapshot().Rules(ruleType))
}

func (ar *ApiV1Router) achievementsHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ar.catalog.Snapshot().Achievements())
}

func (ar *ApiV1Router) reloadHandler(w http.ResponseWriter, r *http.Request) {
	report, err := ar.catalog.Reload(r.Context())
	if err != nil {
		resp := reloadResponse{Error: err.Error()}
		var cfgErr *catalog.ConfigurationError
		if errors.As(err, &cfgErr) {
			resp.Problems = cfgErr.Problems()
		}
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}
	writeJSON(w, http.StatusOK, reloadResponse{Success: true, Generation: report.Generation, Counts: &report})
}

func (ar *ApiV1Router) resultsHandler(w http.ResponseWriter, r *http.Request) {
	results, found := ar.history.Get(r.PathValue("id"))
	if !found {
		results = []score.Result{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (ar *ApiV1Router) unlockedHandler(w http.ResponseWriter, r *http.Request) {
	ids, err := ar.achievements.Unlocked(r.Context(), r.PathValue("id"))
	if err != nil {
		slog.Error("Unable to list unlocked achievements", "user", r.PathValue("id"), "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "achievements unavailable"})
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

// checkHandler evaluates achievements against a supplied user context
// without performing a calculation.
func (ar *ApiV1Router) checkHandler(w http.ResponseWriter, r *http.Request) {
	var uc score.UserContext
	if !decodeBody(w, r, &uc) {
		return
	}
	userID := r.PathValue("id")

	unlocked, err := ar.achievements.Check(r.Context(), userID, score.Input{}.Frame(uc))
	if err != nil {
		slog.Error("Achievement check failed", "user", userID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "achievements unavailable"})
		return
	}
	if unlocked == nil {
		unlocked = []achievement.Unlock{}
	}
	writeJSON(w, http.StatusOK, unlocked)
}

// adminOnly guards next with the admin token header. Without a configured
// token admin endpoints are disabled.
func (ar *ApiV1Router) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ar.adminToken == "" {
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "admin endpoints disabled"})
			return
		}
		token := r.Header.Get(adminTokenHeader)
		if subtle.ConstantTimeCompare([]byte(token), []byte(ar.adminToken)) != 1 {
			slog.Warn("Rejected admin request", "path", r.URL.Path)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid admin token"})
			return
		}
		next(w, r)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		slog.Warn("Unable to decode request body", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Unable to marshal response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// NewApiV1Router creates a new API v1 router. cache and metrics may be nil.
func NewApiV1Router(
	calculator Calculator,
	catalog Catalog,
	history ResultsHistory,
	achievements Achievements,
	cache CacheState,
	metrics http.Handler,
	adminToken string,
) *ApiV1Router {
	return &ApiV1Router{
		calculator:   calculator,
		catalog:      catalog,
		history:      history,
		achievements: achievements,
		cache:        cache,
		metrics:      metrics,
		adminToken:   adminToken,
	}
}
