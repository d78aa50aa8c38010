package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/example/oauthd/internal/origins"
	"github.com/example/oauthd/internal/store"
)

// Origin allow-list administration. Mutations update the store and feed the
// CORS cache through its event queue.

func (a *App) HandleListOrigins(w http.ResponseWriter, r *http.Request) {
	rows, err := a.store.ListOrigins(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list origins")
		return
	}
	out := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		out = append(out, map[string]interface{}{
			"id":     row.ID,
			"origin": row.Origin,
		})
	}
	writeSuccess(w, http.StatusOK, out)
}

func (a *App) HandleAddOrigin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Origin string `json:"origin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	if req.Origin == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "origin is required")
		return
	}
	row, err := a.store.AddOrigin(r.Context(), req.Origin)
	if errors.Is(err, store.ErrDuplicate) {
		writeError(w, http.StatusConflict, "ORIGIN_EXISTS", "origin is already allow-listed")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to add origin")
		return
	}
	a.origins.Apply(origins.Event{Origin: row.Origin})
	writeSuccess(w, http.StatusCreated, map[string]interface{}{
		"id":     row.ID,
		"origin": row.Origin,
	})
}

func (a *App) HandleDeleteOrigin(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid origin id")
		return
	}
	row, err := a.store.RemoveOrigin(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "origin not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to delete origin")
		return
	}
	a.origins.Apply(origins.Event{Origin: row.Origin, Removed: true})
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"id":     row.ID,
		"origin": row.Origin,
	})
}
