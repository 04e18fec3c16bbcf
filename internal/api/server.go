package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"livegrade/internal/hub"
	"livegrade/pkg/interfaces"
	"livegrade/pkg/types"
)

// Stats is the slice of component state the health endpoint reports.
type Stats interface {
	GetStats() map[string]int
}

// Server is the HTTP surface: the grading pipeline's ingest endpoint,
// assessment directory administration, and health. No business logic
// lives here, only HTTP handling and JSON serialization.
type Server struct {
	hub       *hub.Hub
	directory interfaces.AssessmentDirectory
	health    map[string]Stats
	router    *http.ServeMux
}

// NewServer creates the API server. health maps component names to
// their stats providers for the health endpoint.
func NewServer(h *hub.Hub, directory interfaces.AssessmentDirectory, health map[string]Stats) *Server {
	s := &Server{
		hub:       h,
		directory: directory,
		health:    health,
		router:    http.NewServeMux(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/assessments", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleAssessments))))
	s.router.Handle("/api/assessments/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleAssessmentByID))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type CreateAssessmentRequest struct {
	OwnerID int64  `json:"owner_id"`
	Title   string `json:"title"`
}

type AssessmentResponse struct {
	Assessment *types.Assessment `json:"assessment"`
}

// NotifyRequest is the grading pipeline's payload for one evaluated
// task: an opaque status document.
type NotifyRequest struct {
	Payload json.RawMessage `json:"payload"`
}

type NotifyResponse struct {
	UpdateID       string `json:"update_id"`
	SequenceNumber uint64 `json:"sequence_number"`
}

type HealthResponse struct {
	Status     string                    `json:"status"`
	Timestamp  time.Time                 `json:"timestamp"`
	Database   string                    `json:"database"`
	Components map[string]map[string]int `json:"components"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleAssessments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createAssessment(w, r)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleAssessmentByID routes /api/assessments/{id} and
// /api/assessments/{id}/tasks/{taskID}/status.
func (s *Server) handleAssessmentByID(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/assessments/"), "/")

	assessmentID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || assessmentID <= 0 {
		s.sendError(w, "Invalid assessment ID", http.StatusBadRequest)
		return
	}

	switch {
	case len(parts) == 1:
		if r.Method == http.MethodGet {
			s.getAssessment(w, r, assessmentID)
			return
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)

	case len(parts) == 4 && parts[1] == "tasks" && parts[3] == "status":
		taskID, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil || taskID <= 0 {
			s.sendError(w, "Invalid task ID", http.StatusBadRequest)
			return
		}
		if r.Method == http.MethodPost {
			s.notifyTaskEvaluated(w, r, assessmentID, taskID)
			return
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)

	default:
		s.sendError(w, "Not found", http.StatusNotFound)
	}
}

// createAssessment registers a new assessment in the directory.
func (s *Server) createAssessment(w http.ResponseWriter, r *http.Request) {
	var req CreateAssessmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	assessment := &types.Assessment{
		OwnerID: req.OwnerID,
		Title:   req.Title,
	}
	if err := assessment.Validate(); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.directory.CreateAssessment(r.Context(), assessment); err != nil {
		s.sendError(w, "Failed to create assessment", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(AssessmentResponse{Assessment: assessment})
}

func (s *Server) getAssessment(w http.ResponseWriter, r *http.Request, assessmentID int64) {
	assessment, err := s.directory.GetAssessment(r.Context(), assessmentID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			s.sendError(w, "Assessment not found", http.StatusNotFound)
		} else {
			s.sendError(w, "Failed to get assessment", http.StatusInternalServerError)
		}
		return
	}

	json.NewEncoder(w).Encode(AssessmentResponse{Assessment: assessment})
}

// notifyTaskEvaluated is the produced capability for the grading
// pipeline: one evaluated task becomes a sequenced TaskUpdate and fans
// out to the assessment's room.
func (s *Server) notifyTaskEvaluated(w http.ResponseWriter, r *http.Request, assessmentID, taskID int64) {
	var req NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	update, err := s.hub.NotifyTaskEvaluated(r.Context(), assessmentID, taskID, req.Payload)
	if err != nil {
		s.sendError(w, fmt.Sprintf("Publish failed: %v", err), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(NotifyResponse{
		UpdateID:       update.ID,
		SequenceNumber: update.SequenceNumber,
	})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"

	if err := s.directory.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	components := make(map[string]map[string]int, len(s.health))
	for name, provider := range s.health {
		components[name] = provider.GetStats()
	}

	response := HealthResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Database:   dbStatus,
		Components: components,
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
