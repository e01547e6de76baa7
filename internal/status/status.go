// Package status serves the state of the running pages over HTTP.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hazyhaar/pagemark"
)

// Source reports page state. *pagemark.Service implements it.
type Source interface {
	Pages(ctx context.Context) []pagemark.PageStatus
	Page(ctx context.Context, id string) (pagemark.PageStatus, error)
}

// Handler serves the status endpoints.
type Handler struct {
	src    Source
	logger *slog.Logger
}

// New creates a Handler over src.
func New(src Source, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{src: src, logger: logger}
}

// Register mounts the endpoints on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Get("/pages", h.handlePages)
	r.Get("/pages/{id}", h.handlePage)
}

// Router returns a chi router with the endpoints mounted.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.write(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handlePages(w http.ResponseWriter, r *http.Request) {
	h.write(w, http.StatusOK, h.src.Pages(r.Context()))
}

func (h *Handler) handlePage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ps, err := h.src.Page(r.Context(), id)
	switch {
	case errors.Is(err, pagemark.ErrUnknownPage):
		h.write(w, http.StatusNotFound, map[string]string{"error": "unknown page"})
	case err != nil:
		h.logger.Warn("status: page", "id", id, "error", err)
		h.write(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	default:
		h.write(w, http.StatusOK, ps)
	}
}

func (h *Handler) write(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("status: encode response", "error", err)
	}
}
