package api

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	httpSwagger "github.com/swaggo/http-swagger"

	"ballot-backend/logging"
	"ballot-backend/models"
	"ballot-backend/service"
)

const maxBodyBytes = 64 << 10

//go:embed openapi.json
var openAPIDoc []byte

// VotesResponse is returned by /check.
type VotesResponse struct {
	Votes []models.Vote `json:"votes"`
}

// SubmitResponse is returned when a ballot is accepted.
type SubmitResponse struct {
	Result string `json:"result"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Err string `json:"err"`
}

// Server exposes the admission service over HTTP.
type Server struct {
	admission *service.AdmissionService
	router    *mux.Router
	http      *http.Server
	logger    *log.Entry
}

// NewServer creates a server listening on addr with all routes registered.
func NewServer(addr string, admission *service.AdmissionService, logger log.FieldLogger) *Server {
	s := &Server{
		admission: admission,
		router:    mux.NewRouter(),
		logger:    logging.Module(logger, "api"),
	}
	s.registerRoutes()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	s.router.HandleFunc("/openapi.json", s.handleOpenAPI).Methods(http.MethodGet)
	s.router.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
		httpSwagger.URL("/openapi.json"),
	))

	// Older clients call the /vote prefixed paths.
	s.registerVoteRoutes(s.router)
	s.registerVoteRoutes(s.router.PathPrefix("/vote").Subrouter())
}

func (s *Server) registerVoteRoutes(r *mux.Router) {
	r.HandleFunc("/candidates", s.handleCandidates).Methods(http.MethodGet)
	r.HandleFunc("/categories", s.handleCategories).Methods(http.MethodGet)
	r.HandleFunc("/check", s.handleCheck).Methods(http.MethodGet)
	r.HandleFunc("/submit", s.handleSubmit).Methods(http.MethodPost)
}

// Handler is the full middleware chain around the router.
func (s *Server) Handler() http.Handler {
	return s.recoverPanics(s.logRequests(allowCORS(s.router)))
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.WithFields(log.Fields{
		"event": "http_server_starting",
		"addr":  s.http.Addr,
	}).Info("http server starting")

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.WithField("event", "http_server_stopping").Info("http server stopping")
	return s.http.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("[OK]"))
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.admission.Candidates())
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.admission.Categories())
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	addr := strings.TrimSpace(r.URL.Query().Get("address"))
	if addr == "" {
		writeError(w, http.StatusBadRequest, "Query parameter 'address' is required")
		return
	}

	votes, err := s.admission.VotesByAddress(r.Context(), addr)
	if err != nil {
		s.logger.WithFields(log.Fields{
			"event": "votes_lookup_failed",
			"addr":  addr,
			"error": err.Error(),
		}).Error("failed to list votes")
		writeError(w, http.StatusInternalServerError, "Failed to read vote storage")
		return
	}
	if votes == nil {
		votes = []models.Vote{}
	}
	writeJSON(w, http.StatusOK, VotesResponse{Votes: votes})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var vote models.Vote
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&vote); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	res := s.admission.Submit(r.Context(), vote)
	if res.Accepted() {
		writeJSON(w, http.StatusOK, SubmitResponse{Result: "ok"})
		return
	}
	writeError(w, statusForReason(res.Reason), res.Message)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.admission.Metrics())
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openAPIDoc)
}

func statusForReason(reason service.Reason) int {
	switch reason {
	case service.ReasonInvalidBallot,
		service.ReasonUnknownCandidate,
		service.ReasonUnknownCategory,
		service.ReasonUnsupportedSignatureFormat:
		return http.StatusBadRequest
	case service.ReasonInvalidSignature:
		return http.StatusUnauthorized
	case service.ReasonVotingClosed:
		return http.StatusForbidden
	case service.ReasonAlreadyVoted:
		return http.StatusConflict
	case service.ReasonVerificationUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Err: msg})
}
