package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/sdlms/syncserver/internal/courses"
	"github.com/sdlms/syncserver/internal/middleware"
)

// createCourse registers a catalog entry
func (r *Router) createCourse(w http.ResponseWriter, req *http.Request) {
	var body courses.CreateRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := r.validate.Struct(body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	course, err := r.courses.Create(req.Context(), middleware.CurrentUser(req), body)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, course)
}

// updateCourse changes a catalog entry, marking packages outdated when
// content changed
func (r *Router) updateCourse(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(req)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid course id")
		return
	}
	var body courses.UpdateRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := r.validate.Struct(body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	course, err := r.courses.Update(req.Context(), middleware.CurrentUser(req), id, body)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, course)
}

// listCourses returns active courses
func (r *Router) listCourses(w http.ResponseWriter, req *http.Request) {
	list, err := r.courses.List(req.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}
