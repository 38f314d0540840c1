package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/sdlms/syncserver/internal/middleware"
	"github.com/sdlms/syncserver/internal/packages"
)

// createPackage registers a new offline package
func (r *Router) createPackage(w http.ResponseWriter, req *http.Request) {
	var body packages.CreateRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := r.validate.Struct(body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	pkg, err := r.packages.Create(req.Context(), middleware.CurrentUser(req), body)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, pkg)
}

// buildPackage triggers a (re)build of a package
func (r *Router) buildPackage(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(req)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid package id")
		return
	}
	pkg, err := r.packages.RequestBuild(req.Context(), middleware.CurrentUser(req), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, pkg)
}

// getPackage returns one package
func (r *Router) getPackage(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(req)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid package id")
		return
	}
	pkg, err := r.packages.Get(req.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, pkg)
}

// listPackages returns packages matching the query filters
func (r *Router) listPackages(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	filters := packages.Filters{
		Status: q.Get("status"),
		Search: q.Get("search"),
	}
	if raw := q.Get("course"); raw != "" {
		if courseID, err := strconv.ParseUint(raw, 10, 32); err == nil {
			filters.CourseID = uint(courseID)
		}
	}
	pkgs, err := r.packages.List(req.Context(), middleware.CurrentUser(req), filters)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, pkgs)
}

// availablePackages returns ready packages for client discovery
func (r *Router) availablePackages(w http.ResponseWriter, req *http.Request) {
	pkgs, err := r.packages.ListAvailable(req.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, pkgs)
}

// packageDownloadURL returns fetch information for a ready package
func (r *Router) packageDownloadURL(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(req)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid package id")
		return
	}
	info, err := r.packages.GetDownloadInfo(req.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

// packageQR renders the package fetch information as a QR code so a
// second device can pick up the download without typing anything
func (r *Router) packageQR(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(req)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid package id")
		return
	}
	info, err := r.packages.GetDownloadInfo(req.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	payload, err := json.Marshal(info)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	png, err := qrcode.Encode(string(payload), qrcode.Medium, 256)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to generate QR code")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}
