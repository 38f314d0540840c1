package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/sdlms/syncserver/internal/middleware"
	syncsvc "github.com/sdlms/syncserver/internal/sync"
)

// listConflicts returns conflicts matching the query filters
func (r *Router) listConflicts(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	filters := syncsvc.ConflictFilters{
		Resolution: q.Get("resolution"),
		EntityType: q.Get("entity_type"),
	}
	conflicts, err := r.sync.ListConflicts(req.Context(), middleware.CurrentUser(req), filters)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, conflicts)
}

// pendingConflicts returns the caller's unresolved conflicts
func (r *Router) pendingConflicts(w http.ResponseWriter, req *http.Request) {
	conflicts, err := r.sync.ListPending(req.Context(), middleware.CurrentUser(req))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, conflicts)
}

// resolveConflict applies a resolution strategy to a pending conflict
func (r *Router) resolveConflict(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(req)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid conflict id")
		return
	}
	var body syncsvc.ResolveRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := r.validate.Struct(body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	conflict, err := r.sync.Resolve(req.Context(), middleware.CurrentUser(req), id, body)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, conflict)
}
