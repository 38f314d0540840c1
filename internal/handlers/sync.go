package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/sdlms/syncserver/internal/middleware"
	syncsvc "github.com/sdlms/syncserver/internal/sync"
)

// startSession opens a sync session for a device
func (r *Router) startSession(w http.ResponseWriter, req *http.Request) {
	var body syncsvc.StartRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := r.validate.Struct(body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := r.sync.Start(req.Context(), middleware.CurrentUser(req), body)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, session)
}

// uploadToSession pushes a batch of client changes into a session
func (r *Router) uploadToSession(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(req)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	var body syncsvc.UploadRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := r.validate.Struct(body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := r.sync.Upload(req.Context(), middleware.CurrentUser(req), id, body)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// downloadFromSession returns server changes since the session baseline
func (r *Router) downloadFromSession(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(req)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	result, err := r.sync.Download(req.Context(), middleware.CurrentUser(req), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// completeSession closes an in-progress session
func (r *Router) completeSession(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(req)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	session, err := r.sync.Complete(req.Context(), middleware.CurrentUser(req), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

// failSession marks a session as failed with client context
func (r *Router) failSession(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(req)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	var body syncsvc.FailRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	session, err := r.sync.Fail(req.Context(), middleware.CurrentUser(req), id, body)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

// lastSession returns the device's most recent completed session
func (r *Router) lastSession(w http.ResponseWriter, req *http.Request) {
	deviceID := req.URL.Query().Get("device")
	session, err := r.sync.Last(req.Context(), middleware.CurrentUser(req), deviceID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if session == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"session": nil})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

// getSession returns one session with its conflicts
func (r *Router) getSession(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(req)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	session, err := r.sync.Get(req.Context(), middleware.CurrentUser(req), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

// listSessions returns sessions matching the query filters
func (r *Router) listSessions(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	filters := syncsvc.SessionFilters{
		Status:    q.Get("status"),
		Direction: q.Get("direction"),
		DeviceID:  q.Get("device"),
	}
	sessions, err := r.sync.List(req.Context(), middleware.CurrentUser(req), filters)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sessions)
}

// listDevices returns the caller's known devices
func (r *Router) listDevices(w http.ResponseWriter, req *http.Request) {
	devices, err := r.sync.ListDevices(req.Context(), middleware.CurrentUser(req))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, devices)
}
