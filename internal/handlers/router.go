package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/sdlms/syncserver/internal/apperrors"
	"github.com/sdlms/syncserver/internal/config"
	"github.com/sdlms/syncserver/internal/courses"
	"github.com/sdlms/syncserver/internal/database"
	"github.com/sdlms/syncserver/internal/middleware"
	"github.com/sdlms/syncserver/internal/packages"
	syncsvc "github.com/sdlms/syncserver/internal/sync"
	"github.com/sdlms/syncserver/internal/websocket"
)

// Router wires every service behind the HTTP API
type Router struct {
	*mux.Router
	db       *database.DB
	cfg      *config.Config
	validate *validator.Validate

	sync     *syncsvc.Service
	packages *packages.Service
	courses  *courses.Service
	hub      *websocket.Hub
}

// NewRouter creates the HTTP router with all routes registered
func NewRouter(db *database.DB, cfg *config.Config, syncService *syncsvc.Service, packageService *packages.Service, courseService *courses.Service, hub *websocket.Hub) *Router {
	r := &Router{
		Router:   mux.NewRouter(),
		db:       db,
		cfg:      cfg,
		validate: validator.New(),
		sync:     syncService,
		packages: packageService,
		courses:  courseService,
		hub:      hub,
	}

	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	// Auth routes (public)
	auth := r.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/register", r.register).Methods("POST")
	auth.HandleFunc("/login", r.login).Methods("POST")

	// Protected API
	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.Auth(db.DB, cfg.JWTSecret))

	// Sync sessions
	api.HandleFunc("/sync", r.listSessions).Methods("GET")
	api.HandleFunc("/sync/start", r.startSession).Methods("POST")
	api.HandleFunc("/sync/last", r.lastSession).Methods("GET")
	api.HandleFunc("/sync/{id:[0-9]+}", r.getSession).Methods("GET")
	api.HandleFunc("/sync/{id:[0-9]+}/upload", r.uploadToSession).Methods("POST")
	api.HandleFunc("/sync/{id:[0-9]+}/download", r.downloadFromSession).Methods("GET")
	api.HandleFunc("/sync/{id:[0-9]+}/complete", r.completeSession).Methods("POST")
	api.HandleFunc("/sync/{id:[0-9]+}/fail", r.failSession).Methods("POST")

	// Conflicts
	api.HandleFunc("/conflicts", r.listConflicts).Methods("GET")
	api.HandleFunc("/conflicts/pending", r.pendingConflicts).Methods("GET")
	api.HandleFunc("/conflicts/{id:[0-9]+}/resolve", r.resolveConflict).Methods("POST")

	// Offline packages
	api.HandleFunc("/packages", r.listPackages).Methods("GET")
	api.HandleFunc("/packages/available", r.availablePackages).Methods("GET")
	api.HandleFunc("/packages/{id:[0-9]+}", r.getPackage).Methods("GET")
	api.HandleFunc("/packages/{id:[0-9]+}/download-url", r.packageDownloadURL).Methods("GET")
	api.HandleFunc("/packages/{id:[0-9]+}/qr", r.packageQR).Methods("GET")

	staff := api.NewRoute().Subrouter()
	staff.Use(middleware.RequireStaff)
	staff.HandleFunc("/packages", r.createPackage).Methods("POST")
	staff.HandleFunc("/packages/{id:[0-9]+}/build", r.buildPackage).Methods("POST")
	staff.HandleFunc("/courses", r.createCourse).Methods("POST")
	staff.HandleFunc("/courses/{id:[0-9]+}", r.updateCourse).Methods("PUT")

	api.HandleFunc("/courses", r.listCourses).Methods("GET")

	// Package downloads
	api.HandleFunc("/downloads", r.listDownloads).Methods("GET")
	api.HandleFunc("/downloads/start", r.startDownload).Methods("POST")
	api.HandleFunc("/downloads/my", r.myDownloads).Methods("GET")
	api.HandleFunc("/downloads/{id:[0-9]+}/complete", r.completeDownload).Methods("POST")
	api.HandleFunc("/downloads/{id:[0-9]+}/access", r.recordAccess).Methods("POST")

	// Devices
	api.HandleFunc("/devices", r.listDevices).Methods("GET")

	// Device event stream
	r.Handle("/ws", middleware.Auth(db.DB, cfg.JWTSecret)(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		websocket.ServeWs(hub, w, req)
	}))).Methods("GET")

	// Package artifacts
	files := r.PathPrefix("/files/packages/").Subrouter()
	files.Use(middleware.Auth(db.DB, cfg.JWTSecret))
	files.PathPrefix("/").Handler(http.StripPrefix("/files/packages/",
		http.FileServer(http.Dir(cfg.Storage.PackageDir))))

	return r
}

// healthCheck returns the health status of the API
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps a service error onto the HTTP taxonomy
func respondServiceError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	respondError(w, status, message)
}

// pathID parses the {id} route variable
func pathID(req *http.Request) (uint, bool) {
	raw := mux.Vars(req)["id"]
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
