package linksapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/vnahornyi/check-uz-tickets/internal/services/links"
	"github.com/vnahornyi/check-uz-tickets/internal/storage/pglinks"
)

// LinksAPI — JSON-поверхность для бота-фронтенда: управление ссылками,
// ручная проверка, статус.
type LinksAPI struct {
	svc *links.Service
}

func New(svc *links.Service) *LinksAPI {
	return &LinksAPI{svc: svc}
}

func (a *LinksAPI) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/users/{userID}/links", a.addLink)
		r.Get("/users/{userID}/links", a.listLinks)
		r.Delete("/users/{userID}/links", a.removeLink)
		r.Post("/users/{userID}/check", a.forceCheck)
		r.Delete("/links/{linkID}", a.removeLinkByID)
		r.Post("/links/{linkID}/absent", a.markAbsent)
		r.Get("/status", a.status)
	})
}

type linkRequest struct {
	Link string `json:"link"`
}

func (a *LinksAPI) addLink(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := a.svc.AddLink(r.Context(), userID, req.Link)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *LinksAPI) listLinks(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	out, err := a.svc.ListLinks(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *LinksAPI) removeLink(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	deleted, err := a.svc.RemoveLink(r.Context(), userID, req.Link)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deleted)
}

func (a *LinksAPI) removeLinkByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "linkID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid link id")
		return
	}

	deleted, err := a.svc.RemoveLinkByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deleted)
}

func (a *LinksAPI) markAbsent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "linkID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid link id")
		return
	}

	updated, err := a.svc.MarkAbsent(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *LinksAPI) forceCheck(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	if err := a.svc.ForceCheck(r.Context(), userID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"triggered": true})
}

func (a *LinksAPI) status(w http.ResponseWriter, r *http.Request) {
	st, err := a.svc.Status(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, links.ErrInvalidLink):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, pglinks.ErrDuplicateLink):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, links.ErrTooManyLinks):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, pglinks.ErrLinkNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		slog.Error("links api", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
