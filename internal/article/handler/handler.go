// Package handler exposes article submission, listing and deletion over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/api/middleware"
	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/article"
	apperrors "github.com/Adithya-Monish-Kumar-K/reading-list/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/logger"
)

const maxBodyBytes = 64 << 10

// Service is what the handler needs from *submitter.Submitter.
type Service interface {
	Submit(ctx context.Context, ownerID, url string) (*article.Record, error)
	List(ctx context.Context, ownerID string) ([]article.Record, error)
	Delete(ctx context.Context, id string) error
}

type Handler struct {
	svc    Service
	logger *slog.Logger
}

func New(svc Service) *Handler {
	return &Handler{
		svc:    svc,
		logger: slog.Default().With("component", "article-handler"),
	}
}

type submitRequest struct {
	URL string `json:"url"`
}

// Submit handles POST /api/articles. It answers with the pending record; the
// client polls List until the status changes.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	var req submitRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		h.writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if !utf8.ValidString(req.URL) {
		h.writeError(w, http.StatusBadRequest, "url must be valid UTF-8")
		return
	}

	rec, err := h.svc.Submit(r.Context(), owner, req.URL)
	if err != nil {
		h.fail(r, w, "submit", err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// List handles GET /api/articles: every record of the caller, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	records, err := h.svc.List(r.Context(), owner)
	if err != nil {
		h.fail(r, w, "list", err)
		return
	}
	h.writeJSON(w, http.StatusOK, records)
}

// Delete handles DELETE /api/articles/{id}. The record is removed whoever
// owns it.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.owner(w, r); !ok {
		return
	}
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "article id is required")
		return
	}

	err := h.svc.Delete(r.Context(), id)
	if errors.Is(err, apperrors.ErrNotFound) {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"msg": "Article not found"})
		return
	}
	if err != nil {
		h.fail(r, w, "delete", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"msg": "Article deleted"})
}

func (h *Handler) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := middleware.OwnerID(r.Context())
	if owner == "" {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return owner, true
}

// fail logs err and answers with its status. Input problems are echoed back;
// anything else gets a generic message.
func (h *Handler) fail(r *http.Request, w http.ResponseWriter, op string, err error) {
	status := apperrors.HTTPStatusCode(err)
	logger.FromContext(r.Context()).Error("request failed",
		"component", "article-handler",
		"op", op,
		"status", status,
		"error", err,
	)
	if status == http.StatusBadRequest {
		h.writeError(w, status, err.Error())
		return
	}
	h.writeError(w, status, "Server Error")
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
