// Package api provides the HTTP interface to stackctl: stored environment
// management plus the validate/resolve/render pipeline over the wire.
// Handlers are thin shells - they decode, call into the functional core, and
// encode; every topology decision lives in internal/core.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/artpar/stackctl/internal/catalog"
	"github.com/artpar/stackctl/internal/core/render"
	"github.com/artpar/stackctl/internal/core/topology"
	"github.com/artpar/stackctl/internal/shell/api/openapi"
	"github.com/artpar/stackctl/internal/shell/docker"
	"github.com/artpar/stackctl/internal/shell/store"
)

// =============================================================================
// Handler
// =============================================================================

// Handler serves the stackctl HTTP API.
type Handler struct {
	store   store.Store
	applier *docker.Applier // nil when no engine is attached
	logger  *slog.Logger
	openapi *openapi.Generator
	version string
}

// NewHandler creates the API handler. applier may be nil; engine-backed
// endpoints then respond 503.
func NewHandler(st store.Store, applier *docker.Applier, logger *slog.Logger, version string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	gen := openapi.NewGenerator(
		openapi.WithTitle("Stackctl API"),
		openapi.WithVersion(version),
		openapi.WithDescription("Deployment topology management API"),
	)
	gen.RegisterResource(openapi.ResourceInfo{
		Name:           "environments",
		Model:          EnvironmentResponse{},
		CreateModel:    CreateEnvironmentRequest{},
		UpdateModel:    UpdateEnvironmentRequest{},
		SupportsFind:   true,
		SupportsCreate: true,
		SupportsUpdate: true,
		SupportsDelete: true,
		Actions: []openapi.ActionInfo{
			{Name: "validate", Summary: "Validate an environment under a profile selection", Request: ValidateRequest{}, Response: ValidateResponse{}},
			{Name: "resolve", Summary: "Resolve the activation set and start order", Request: ResolveRequest{}, Response: ResolveResponse{}},
			{Name: "render", Summary: "Render the environment to a deployable document", Request: RenderRequest{}, Response: RenderResponse{}},
		},
	})
	gen.RegisterResource(openapi.ResourceInfo{
		Name:         "renders",
		Model:        RenderRecordResponse{},
		SupportsFind: true,
	})

	return &Handler{
		store:   st,
		applier: applier,
		logger:  logger,
		openapi: gen,
		version: version,
	}
}

// Routes returns the router with all API routes configured.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDHeader)

	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)
	r.Get("/openapi.json", h.openapi.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(jsonContentType)

		r.Get("/catalog", h.handleCatalogList)
		r.Get("/catalog/{name}", h.handleCatalogGet)

		r.Route("/environments", func(r chi.Router) {
			r.Post("/", h.handleEnvironmentCreate)
			r.Get("/", h.handleEnvironmentList)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.handleEnvironmentGet)
				r.Put("/", h.handleEnvironmentUpdate)
				r.Delete("/", h.handleEnvironmentDelete)

				r.Post("/validate", h.handleValidate)
				r.Post("/resolve", h.handleResolve)
				r.Post("/render", h.handleRender)

				r.Get("/renders", h.handleRenderHistory)
				r.Get("/status", h.handleStatus)
			})
		})

		r.Get("/renders/{id}", h.handleRenderGet)
	})

	return r
}

// =============================================================================
// Health Endpoints
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: h.version})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	ready := true

	if _, err := h.store.ListEnvironments(r.Context(), store.ListOptions{Limit: 1}); err != nil {
		checks["database"] = err.Error()
		ready = false
	} else {
		checks["database"] = "ok"
	}

	if h.applier != nil {
		if err := h.applier.Ping(r.Context()); err != nil {
			checks["docker"] = err.Error()
			ready = false
		} else {
			checks["docker"] = "ok"
		}
	}

	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, ReadyResponse{Ready: ready, Checks: checks})
}

// =============================================================================
// Catalog Endpoints
// =============================================================================

func (h *Handler) handleCatalogList(w http.ResponseWriter, r *http.Request) {
	names := catalog.Environments()
	out := make([]CatalogEnvironmentResponse, 0, len(names))
	for _, name := range names {
		env, err := catalog.Load(name)
		if err != nil {
			h.logger.Error("catalog load failed", "environment", name, "error", err)
			continue
		}
		resp := CatalogEnvironmentResponse{Name: name, Profiles: sortedProfiles(env), Services: []string{}}
		for _, svc := range env.Services {
			resp.Services = append(resp.Services, svc.Name)
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleCatalogGet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	source, err := catalog.Manifest(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "unknown catalog environment: "+name)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(source))
}

// =============================================================================
// Environment CRUD
// =============================================================================

func (h *Handler) handleEnvironmentCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateEnvironmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "name is required")
		return
	}

	// Reject sources that do not load; stored environments must always be
	// renderable-at-least-loadable.
	if _, err := topology.Load(req.Name, req.Source); err != nil {
		writeTopologyError(w, err)
		return
	}

	rec := store.NewEnvironmentRecord(req.Name, req.Description, req.Source)
	if err := h.store.CreateEnvironment(r.Context(), rec); err != nil {
		if errors.Is(err, store.ErrDuplicateName) || errors.Is(err, store.ErrDuplicateID) {
			writeError(w, http.StatusConflict, "conflict", "environment name already exists: "+req.Name)
			return
		}
		h.writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toEnvironmentResponse(rec))
}

func (h *Handler) handleEnvironmentList(w http.ResponseWriter, r *http.Request) {
	opts := listOptionsFromQuery(r)
	recs, err := h.store.ListEnvironments(r.Context(), opts)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	out := make([]EnvironmentResponse, 0, len(recs))
	for i := range recs {
		out = append(out, toEnvironmentResponse(&recs[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleEnvironmentGet(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookupEnvironment(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toEnvironmentResponse(rec))
}

func (h *Handler) handleEnvironmentUpdate(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookupEnvironment(w, r)
	if !ok {
		return
	}

	var req UpdateEnvironmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	if req.Description != nil {
		rec.Description = *req.Description
	}
	if req.Source != nil {
		if _, err := topology.Load(rec.Name, *req.Source); err != nil {
			writeTopologyError(w, err)
			return
		}
		rec.Source = *req.Source
	}
	rec.Touch()

	if err := h.store.UpdateEnvironment(r.Context(), rec); err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEnvironmentResponse(rec))
}

func (h *Handler) handleEnvironmentDelete(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookupEnvironment(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteEnvironment(r.Context(), rec.ID); err != nil {
		h.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Topology Pipeline Endpoints
// =============================================================================

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookupEnvironment(w, r)
	if !ok {
		return
	}
	var req ValidateRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	env, err := topology.Load(rec.Name, rec.Source)
	if err != nil {
		writeTopologyError(w, err)
		return
	}

	resp := ValidateResponse{Valid: true, Profiles: req.Profiles}
	if verr := topology.Validate(env, req.Profiles); verr != nil {
		resp.Valid = false
		resp.Violations = toViolationResponses(verr.Violations)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookupEnvironment(w, r)
	if !ok {
		return
	}
	var req ResolveRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	env, err := topology.Load(rec.Name, rec.Source)
	if err != nil {
		writeTopologyError(w, err)
		return
	}

	res, err := topology.Resolve(env, req.Profiles)
	if err != nil {
		writeTopologyError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ResolveResponse{
		Environment: res.Environment,
		Profiles:    res.Profiles,
		StartOrder:  res.StartOrder(),
	})
}

func (h *Handler) handleRender(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookupEnvironment(w, r)
	if !ok {
		return
	}
	var req RenderRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	env, err := topology.Load(rec.Name, rec.Source)
	if err != nil {
		writeTopologyError(w, err)
		return
	}
	if verr := topology.Validate(env, req.Profiles); verr != nil {
		writeTopologyError(w, verr)
		return
	}
	res, err := topology.Resolve(env, req.Profiles)
	if err != nil {
		writeTopologyError(w, err)
		return
	}
	output, err := render.Render(env, res, req.Variables)
	if err != nil {
		writeTopologyError(w, err)
		return
	}

	renderRec := store.NewRenderRecord(rec.ID, res.Profiles, req.Variables, string(output))
	if err := h.store.CreateRender(r.Context(), renderRec); err != nil {
		h.writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, RenderResponse{
		RenderID:    renderRec.ID,
		Environment: rec.Name,
		Profiles:    res.Profiles,
		Output:      string(output),
	})
}

// =============================================================================
// Render History
// =============================================================================

func (h *Handler) handleRenderHistory(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookupEnvironment(w, r)
	if !ok {
		return
	}
	recs, err := h.store.ListRendersByEnvironment(r.Context(), rec.ID, listOptionsFromQuery(r))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	out := make([]RenderRecordResponse, 0, len(recs))
	for i := range recs {
		out = append(out, toRenderRecordResponse(&recs[i], false))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleRenderGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.GetRender(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRenderRecordResponse(rec, true))
}

// =============================================================================
// Status Endpoint
// =============================================================================

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if h.applier == nil {
		writeError(w, http.StatusServiceUnavailable, "no_engine", "no container engine attached")
		return
	}
	rec, ok := h.lookupEnvironment(w, r)
	if !ok {
		return
	}

	health, states, err := h.applier.Status(r.Context(), rec.Name)
	if err != nil {
		h.logger.Error("status query failed", "environment", rec.Name, "error", err)
		writeError(w, http.StatusBadGateway, "engine_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Environment: rec.Name,
		Health:      string(health),
		Services:    toServiceStateResponses(states),
	})
}

// =============================================================================
// Helpers
// =============================================================================

// lookupEnvironment resolves the {id} path segment by record ID first, then
// by name, so both address forms work.
func (h *Handler) lookupEnvironment(w http.ResponseWriter, r *http.Request) (*store.EnvironmentRecord, bool) {
	id := chi.URLParam(r, "id")

	rec, err := h.store.GetEnvironment(r.Context(), id)
	if err == nil {
		return rec, true
	}
	if !errors.Is(err, store.ErrNotFound) {
		h.writeStoreError(w, err)
		return nil, false
	}

	rec, err = h.store.GetEnvironmentByName(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return nil, false
	}
	return rec, true
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
		return
	}
	h.logger.Error("store operation failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}

// writeTopologyError maps pipeline failures to 422 with a stable error code,
// mirroring the CLI's exit-code classes.
func writeTopologyError(w http.ResponseWriter, err error) {
	var schemaErr *topology.SchemaError
	var validationErr *topology.ValidationError
	var cycleErr *topology.CycleError
	var renderErr *render.RenderError

	switch {
	case errors.As(err, &schemaErr):
		writeErrorDetails(w, http.StatusUnprocessableEntity, "schema_error", schemaErr.Error(), nil)
	case errors.As(err, &validationErr):
		details := make([]string, len(validationErr.Violations))
		for i, v := range validationErr.Violations {
			details[i] = v.String()
		}
		writeErrorDetails(w, http.StatusUnprocessableEntity, "validation_error", "topology validation failed", details)
	case errors.As(err, &cycleErr):
		writeErrorDetails(w, http.StatusUnprocessableEntity, "cycle_error", cycleErr.Error(), cycleErr.Cycle)
	case errors.As(err, &renderErr):
		details := make([]string, len(renderErr.Missing))
		for i, m := range renderErr.Missing {
			details[i] = m.String()
		}
		writeErrorDetails(w, http.StatusUnprocessableEntity, "render_error", "unresolved variable tokens", details)
	default:
		writeErrorDetails(w, http.StatusUnprocessableEntity, "schema_error", err.Error(), nil)
	}
}

func listOptionsFromQuery(r *http.Request) store.ListOptions {
	opts := store.DefaultListOptions()
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Offset = n
		}
	}
	return opts.Normalize()
}

// decodeOptionalBody decodes a JSON body into v, treating an empty body as
// the zero request. Returns false after writing the error response.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeErrorDetails(w, status, code, message, nil)
}

func writeErrorDetails(w http.ResponseWriter, status int, code, message string, details []string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets the JSON content type on API responses.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader echoes the request ID back so clients can correlate logs.
func requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set("X-Request-Id", id)
		}
		next.ServeHTTP(w, r)
	})
}
