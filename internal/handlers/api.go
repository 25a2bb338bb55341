package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"jardav/internal/address"
	"jardav/internal/dependencies"
	"jardav/internal/errdefs"
	"jardav/internal/filesystem"
	"jardav/internal/jobs"
	"jardav/internal/notify"
	"jardav/internal/preview"
	"jardav/internal/scenarios"
	"jardav/internal/storage"
	"jardav/internal/webdav"
	"jardav/pkg/types"
)

// Workspace groups the language server facing components the API exposes.
type Workspace struct {
	Dependencies *dependencies.Registry
	Scenarios    *scenarios.Registry
	Preview      *preview.FS
	Jobs         *jobs.Tracker
	Router       *notify.Router
}

type APIHandler struct {
	fs        *filesystem.ArchiveFS
	store     *storage.PersistentStore
	deps      *dependencies.Registry
	scenarios *scenarios.Registry
	preview   *preview.FS
	jobs      *jobs.Tracker
	router    *notify.Router
	logger    *zap.Logger
	mux       *http.ServeMux
}

func NewAPIHandler(fs *filesystem.ArchiveFS, store *storage.PersistentStore, ws Workspace, logger *zap.Logger) *APIHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &APIHandler{
		fs:        fs,
		store:     store,
		deps:      ws.Dependencies,
		scenarios: ws.Scenarios,
		preview:   ws.Preview,
		jobs:      ws.Jobs,
		router:    ws.Router,
		logger:    logger,
		mux:       http.NewServeMux(),
	}

	h.mux.HandleFunc("GET /api/mounts", h.handleListMounts)
	h.mux.HandleFunc("POST /api/mounts", h.handleAddMount)
	h.mux.HandleFunc("DELETE /api/mounts/{id}", h.handleDeleteMount)
	h.mux.HandleFunc("GET /api/fs/stat", h.handleStat)
	h.mux.HandleFunc("GET /api/fs/list", h.handleList)
	h.mux.HandleFunc("GET /api/fs/read", h.handleRead)
	h.mux.HandleFunc("GET /api/archives", h.handleArchiveMetadata)
	h.mux.HandleFunc("POST /api/notify", h.handleNotify)
	h.mux.HandleFunc("GET /api/jobs", h.handleJobs)
	h.mux.HandleFunc("GET /api/dependencies", h.handleDependencies)
	h.mux.HandleFunc("GET /api/scenarios", h.handleScenarios)
	h.mux.HandleFunc("GET /api/preview", h.handlePreview)
	h.mux.HandleFunc("GET /api/preview/content", h.handlePreviewContent)
	h.mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		h.sendError(w, http.StatusNotFound, "Invalid API endpoint")
	})

	return h
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type MountListResponse struct {
	Mounts []types.Mount `json:"mounts"`
	Total  int           `json:"total"`
}

type NotifyRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func (h *APIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// GET /api/mounts - list all mounts
func (h *APIHandler) handleListMounts(w http.ResponseWriter, r *http.Request) {
	mounts, err := h.store.GetAllMounts()
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	if mounts == nil {
		mounts = []types.Mount{}
	}

	h.sendSuccess(w, http.StatusOK, "Mounts retrieved successfully", MountListResponse{
		Mounts: mounts,
		Total:  len(mounts),
	})
}

// POST /api/mounts - mount an archive under an id
func (h *APIHandler) handleAddMount(w http.ResponseWriter, r *http.Request) {
	var mount types.Mount
	if err := json.NewDecoder(r.Body).Decode(&mount); err != nil {
		h.sendError(w, http.StatusBadRequest, "Invalid JSON payload: "+err.Error())
		return
	}

	if err := validateMount(mount); err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	existing, err := h.store.GetMount(mount.ID)
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	if existing != nil {
		h.sendError(w, http.StatusConflict, fmt.Sprintf("Mount %q already exists", mount.ID))
		return
	}

	mount.Origin = types.OriginAPI
	if err := h.store.SetMount(&mount); err != nil {
		h.sendFailure(w, err)
		return
	}

	h.logger.Info("Mount added", zap.String("id", mount.ID), zap.String("uri", mount.URI))
	h.sendSuccess(w, http.StatusCreated, "Mount added successfully", mount)
}

// DELETE /api/mounts/{id} - remove a mount
func (h *APIHandler) handleDeleteMount(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	existing, err := h.store.GetMount(id)
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	if existing == nil {
		h.sendError(w, http.StatusNotFound, "Mount not found")
		return
	}

	if err := h.store.DeleteMount(id); err != nil {
		h.sendFailure(w, err)
		return
	}

	h.releaseIfUnused(existing.URI)

	h.logger.Info("Mount removed", zap.String("id", id))
	h.sendSuccess(w, http.StatusOK, "Mount removed successfully", map[string]string{"id": id})
}

// releaseIfUnused releases the archive at uri when no mount refers to it.
func (h *APIHandler) releaseIfUnused(uri string) {
	mounts, err := h.store.GetAllMounts()
	if err != nil {
		h.logger.Warn("Failed to list mounts", zap.Error(err))
		return
	}
	for _, m := range mounts {
		if m.URI == uri {
			return
		}
	}
	h.fs.Release(uri)
}

// GET /api/fs/stat?address= - stat a composite address
func (h *APIHandler) handleStat(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.address(w, r)
	if !ok {
		return
	}

	st, err := h.fs.Stat(r.Context(), addr)
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendSuccess(w, http.StatusOK, "", st)
}

// GET /api/fs/list?address= - list a directory
func (h *APIHandler) handleList(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.address(w, r)
	if !ok {
		return
	}

	entries, err := h.fs.ReadDirectory(r.Context(), addr)
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	if entries == nil {
		entries = []types.DirEntry{}
	}
	h.sendSuccess(w, http.StatusOK, "", entries)
}

// GET /api/fs/read?address= - raw file content
func (h *APIHandler) handleRead(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.address(w, r)
	if !ok {
		return
	}

	data, err := h.fs.ReadFile(r.Context(), addr)
	if err != nil {
		h.sendFailure(w, err)
		return
	}

	w.Header().Set("Content-Type", webdav.ContentType(addr.Name()))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// GET /api/archives?location= - what the store remembers about an archive
func (h *APIHandler) handleArchiveMetadata(w http.ResponseWriter, r *http.Request) {
	location := r.URL.Query().Get("location")
	if location == "" {
		h.sendError(w, http.StatusBadRequest, "location is required")
		return
	}

	metadata, err := h.store.GetArchiveMetadata(location)
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	if metadata == nil {
		h.sendError(w, http.StatusNotFound, "Archive has not been read yet")
		return
	}
	h.sendSuccess(w, http.StatusOK, "", metadata)
}

// POST /api/notify - deliver a language server notification
func (h *APIHandler) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "Invalid JSON payload: "+err.Error())
		return
	}
	if req.Method == "" {
		h.sendError(w, http.StatusBadRequest, "method is required")
		return
	}

	if err := h.router.Dispatch(r.Context(), req.Method, req.Params); err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendSuccess(w, http.StatusAccepted, "Notification delivered", map[string]string{"method": req.Method})
}

// GET /api/jobs - running jobs
func (h *APIHandler) handleJobs(w http.ResponseWriter, r *http.Request) {
	h.sendSuccess(w, http.StatusOK, "", h.jobs.Active())
}

// GET /api/dependencies[?address=] - dependency roots, or the children of a node
func (h *APIHandler) handleDependencies(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("address")
	if raw == "" {
		h.sendSuccess(w, http.StatusOK, "", h.deps.Roots())
		return
	}

	children, err := h.deps.Children(r.Context(), dependencies.TreeItem{Address: raw})
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendSuccess(w, http.StatusOK, "", children)
}

// GET /api/scenarios[?id=] - scenario roots, or the children of a node
func (h *APIHandler) handleScenarios(w http.ResponseWriter, r *http.Request) {
	if h.scenarios == nil {
		h.sendError(w, http.StatusNotFound, "Scenarios are not available")
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		h.sendSuccess(w, http.StatusOK, "", h.scenarios.Roots())
		return
	}

	children, err := h.scenarios.Children(r.Context(), id)
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendSuccess(w, http.StatusOK, "", children)
}

// PreviewResponse describes the preview document.
type PreviewResponse struct {
	URI     string           `json:"uri"`
	Stat    types.FileStat   `json:"stat"`
	Entries []types.DirEntry `json:"entries"`
	Result  preview.Result   `json:"result"`
}

// GET /api/preview - the preview document and the result that produced it
func (h *APIHandler) handlePreview(w http.ResponseWriter, r *http.Request) {
	if h.preview == nil {
		h.sendError(w, http.StatusNotFound, "Preview is not available")
		return
	}

	st, err := h.preview.Stat(r.Context())
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	entries, err := h.preview.ReadDirectory(r.Context())
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendSuccess(w, http.StatusOK, "", PreviewResponse{
		URI:     preview.URI,
		Stat:    st,
		Entries: entries,
		Result:  h.preview.Last(),
	})
}

// GET /api/preview/content - raw preview output
func (h *APIHandler) handlePreviewContent(w http.ResponseWriter, r *http.Request) {
	if h.preview == nil {
		h.sendError(w, http.StatusNotFound, "Preview is not available")
		return
	}

	data, err := h.preview.ReadFile(r.Context())
	if err != nil {
		h.sendFailure(w, err)
		return
	}

	contentType := h.preview.Last().MimeType
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *APIHandler) address(w http.ResponseWriter, r *http.Request) (address.Address, bool) {
	raw := r.URL.Query().Get("address")
	if raw == "" {
		h.sendError(w, http.StatusBadRequest, "address is required")
		return address.Address{}, false
	}
	addr, err := address.Parse(raw)
	if err != nil {
		h.sendFailure(w, err)
		return address.Address{}, false
	}
	return addr, true
}

func validateMount(mount types.Mount) error {
	if mount.ID == "" {
		return fmt.Errorf("id is required")
	}
	if strings.ContainsAny(mount.ID, "/\\") || mount.ID == "." || mount.ID == ".." {
		return fmt.Errorf("id must be a single path segment")
	}
	if mount.URI == "" {
		return fmt.Errorf("uri is required")
	}
	if _, err := address.New(mount.URI, ""); err != nil {
		return err
	}
	return nil
}

func (h *APIHandler) sendSuccess(w http.ResponseWriter, statusCode int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	}
	json.NewEncoder(w).Encode(response)
}

// sendFailure answers with the status the error maps to.
func (h *APIHandler) sendFailure(w http.ResponseWriter, err error) {
	status := errdefs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warn("API request failed", zap.Error(err))
	}
	h.sendError(w, status, err.Error())
}

func (h *APIHandler) sendError(w http.ResponseWriter, statusCode int, errorMsg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := APIResponse{
		Success: false,
		Error:   errorMsg,
	}
	json.NewEncoder(w).Encode(response)
}
