package service

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/hlog"

	"github.com/onexay/swiftpkgindex/internal/storage"
	"github.com/onexay/swiftpkgindex/internal/types"
)

const maxBodyBytes = 8 << 20

// HandlerOptions configure the REST routes.
type HandlerOptions struct {
	// BuilderToken guards write routes when set.
	BuilderToken string
}

// Handler builds the REST routes for the service, relative to /api.
func Handler(svc *Service, opts HandlerOptions) http.Handler {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown endpoint"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	})

	r.Get("/packages", svc.handleListPackages)
	r.Get("/packages/{owner}", svc.handleOwnerPackages)
	r.Get("/packages/{owner}/{repo}", svc.handleGetPackage)
	r.Get("/packages/{owner}/{repo}/builds", svc.handleBuildMatrix)
	r.Get("/packages/{owner}/{repo}/badge", svc.handleBadge)
	r.Get("/builds/{id}", svc.handleGetBuild)
	r.Get("/builds/{id}/log", svc.handleBuildLog)
	r.Get("/search", svc.handleSearch)

	r.Group(func(r chi.Router) {
		r.Use(requireBuilder(opts.BuilderToken))
		r.Post("/packages", svc.handleAddPackage)
		r.Delete("/packages/{owner}/{repo}", svc.handleDeletePackage)
		r.Put("/packages/{owner}/{repo}/repository", svc.handleUpdateRepository)
		r.Put("/packages/{owner}/{repo}/references", svc.handleIngestReferences)
		r.Post("/versions/{id}/trigger-build", svc.handleTriggerBuild)
		r.Post("/versions/{id}/build-report", svc.handleBuildReport)
		r.Post("/reconcile", svc.handleReconcile)
	})
	return r
}

func requireBuilder(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				hlog.FromRequest(r).Warn().Str("path", r.URL.Path).Msg("rejected unauthenticated write")
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "builder token required"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Service) handleListPackages(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := intParam(query.Get("limit"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	pkgs, err := s.ListPackages(r.Context(), storage.ListPackagesOptions{
		Owner: query.Get("owner"),
		Query: query.Get("query"),
		Limit: limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pkgs)
}

func (s *Service) handleOwnerPackages(w http.ResponseWriter, r *http.Request) {
	pkgs, err := s.PackagesByOwner(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pkgs)
}

func (s *Service) handleAddPackage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	pkg, err := s.AddPackage(r.Context(), req.URL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pkg)
}

func (s *Service) handleGetPackage(w http.ResponseWriter, r *http.Request) {
	info, err := s.GetPackage(r.Context(), chi.URLParam(r, "owner"), chi.URLParam(r, "repo"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Service) handleDeletePackage(w http.ResponseWriter, r *http.Request) {
	if err := s.DeletePackage(r.Context(), chi.URLParam(r, "owner"), chi.URLParam(r, "repo")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleUpdateRepository(w http.ResponseWriter, r *http.Request) {
	var repo types.Repository
	if err := decodeJSON(r, &repo); err != nil {
		writeError(w, r, err)
		return
	}
	saved, err := s.UpdateRepository(r.Context(), chi.URLParam(r, "owner"), chi.URLParam(r, "repo"), repo)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Service) handleIngestReferences(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	result, err := s.IngestReferences(r.Context(), chi.URLParam(r, "owner"), chi.URLParam(r, "repo"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Service) handleBuildMatrix(w http.ResponseWriter, r *http.Request) {
	matrix, err := s.BuildMatrix(r.Context(), chi.URLParam(r, "owner"), chi.URLParam(r, "repo"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, matrix)
}

func (s *Service) handleBadge(w http.ResponseWriter, r *http.Request) {
	b, err := s.Badge(r.Context(), chi.URLParam(r, "owner"), chi.URLParam(r, "repo"), r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(b.CacheSeconds))
	writeJSON(w, http.StatusOK, b)
}

func (s *Service) handleTriggerBuild(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req TriggerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := s.TriggerBuild(r.Context(), id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Service) handleBuildReport(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req ReportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := s.ReportBuild(r.Context(), id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Service) handleGetBuild(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	b, err := s.GetBuild(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Service) handleBuildLog(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	data, err := s.BuildLog(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Service) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := intParam(query.Get("limit"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	results, err := s.Search(r.Context(), query.Get("query"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Service) handleReconcile(w http.ResponseWriter, r *http.Request) {
	dryRun := false
	if raw := r.URL.Query().Get("dry_run"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, badRequest("dry_run must be a boolean"))
			return
		}
		dryRun = parsed
	}
	var urls []string
	if err := decodeJSON(r, &urls); err != nil {
		writeError(w, r, err)
		return
	}
	result, err := s.Reconcile(r.Context(), urls, dryRun)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		var invalid *types.InvalidValueError
		if errors.As(err, &invalid) {
			return badRequestCause(invalid.Error(), err)
		}
		return badRequestCause("invalid payload", err)
	}
	return nil
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, badRequestCause("invalid "+name, err)
	}
	return id, nil
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest("limit must be a non-negative integer")
	}
	return n, nil
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(err error) int {
	switch errbuilder.CodeOf(err) {
	case errbuilder.CodeNotFound:
		return http.StatusNotFound
	case errbuilder.CodeInvalidArgument:
		return http.StatusBadRequest
	case errbuilder.CodeAlreadyExists, errbuilder.CodeFailedPrecondition:
		return http.StatusConflict
	case errbuilder.CodePermissionDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	msg := err.Error()
	var builder *errbuilder.ErrBuilder
	if errors.As(err, &builder) && strings.TrimSpace(builder.Msg) != "" {
		msg = builder.Msg
	}
	if status == http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
