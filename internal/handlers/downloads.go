package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/sdlms/syncserver/internal/middleware"
	"github.com/sdlms/syncserver/internal/packages"
)

// startDownload begins (or restarts) a package download for a device
func (r *Router) startDownload(w http.ResponseWriter, req *http.Request) {
	var body packages.StartDownloadRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := r.validate.Struct(body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := r.packages.StartDownload(req.Context(), middleware.CurrentUser(req), body)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

// completeDownload marks a download as finished on the device
func (r *Router) completeDownload(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(req)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid download id")
		return
	}
	dl, err := r.packages.CompleteDownload(req.Context(), middleware.CurrentUser(req), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dl)
}

// recordAccess bumps the last-accessed timestamp of a download
func (r *Router) recordAccess(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(req)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid download id")
		return
	}
	dl, err := r.packages.RecordAccess(req.Context(), middleware.CurrentUser(req), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dl)
}

// myDownloads returns the caller's completed downloads
func (r *Router) myDownloads(w http.ResponseWriter, req *http.Request) {
	downloads, err := r.packages.MyDownloads(req.Context(), middleware.CurrentUser(req))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, downloads)
}

// listDownloads returns download records matching the query filters
func (r *Router) listDownloads(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	filters := packages.DownloadFilters{
		DeviceID: q.Get("device"),
	}
	if raw := q.Get("package"); raw != "" {
		if pkgID, err := strconv.ParseUint(raw, 10, 32); err == nil {
			filters.PackageID = uint(pkgID)
		}
	}
	if raw := q.Get("completed"); raw != "" {
		if completed, err := strconv.ParseBool(raw); err == nil {
			filters.Completed = &completed
		}
	}
	downloads, err := r.packages.ListDownloads(req.Context(), middleware.CurrentUser(req), filters)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, downloads)
}
