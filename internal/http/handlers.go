package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/nearby/internal/models"
	"github.com/example/nearby/internal/nearby"
)

// Options tune request parsing.
type Options struct {
	// RequireCoords makes lat/lng mandatory on /users/close/{id}.
	RequireCoords bool
	// DefaultCoord is used for a missing lat or lng when RequireCoords is off.
	DefaultCoord models.Coord
}

type Server struct {
	svc    *nearby.Service
	logger *slog.Logger
	opts   Options
	mux    *mux.Router
}

func NewServer(svc *nearby.Service, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{svc: svc, logger: logger, opts: opts, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/users", s.handleRegister).Methods(http.MethodPost)
	s.mux.HandleFunc("/users/close/{id}", s.handleClose).Methods(http.MethodGet)
	s.mux.HandleFunc("/users/{id}", s.handleGetUser).Methods(http.MethodGet)
	s.mux.HandleFunc("/users/", s.handleGetUser).Methods(http.MethodGet)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods(http.MethodGet)
	s.mux.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type registerRequest struct {
	Name      string   `json:"name"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type registerResponse struct {
	Message string        `json:"message"`
	User    models.Entity `json:"user"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		writeError(w, http.StatusBadRequest, "latitude and longitude are required")
		return
	}
	u, err := s.svc.Register(r.Context(), req.Name, models.Coord{Lat: *req.Latitude, Lng: *req.Longitude})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{Message: "User added", User: u})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	q := r.URL.Query()
	lat, err := s.coordParam(q.Get("lat"), s.opts.DefaultCoord.Lat)
	if err != nil {
		writeError(w, http.StatusBadRequest, "lat: "+err.Error())
		return
	}
	lng, err := s.coordParam(q.Get("lng"), s.opts.DefaultCoord.Lng)
	if err != nil {
		writeError(w, http.StatusBadRequest, "lng: "+err.Error())
		return
	}
	out, err := s.svc.UpdateAndRank(r.Context(), id, models.Coord{Lat: lat, Lng: lng})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

var errMissing = errors.New("required")

func (s *Server) coordParam(raw string, def float64) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if s.opts.RequireCoords {
			return 0, errMissing
		}
		return def, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.New("not a number")
	}
	return f, nil
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(mux.Vars(r)["id"])
	if id == "" {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}
	u, err := s.svc.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ping(r.Context()); err != nil {
		loggerFrom(r).WarnContext(r.Context(), "store not ready", "error", err)
		http.Error(w, "store not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(200)
	w.Write([]byte("ready"))
}

// writeServiceError maps service errors onto status codes. Storage causes
// are logged and replaced by a generic message.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, nearby.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, nearby.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		loggerFrom(r).ErrorContext(r.Context(), "request failed", "route", routeTemplate(r), "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
