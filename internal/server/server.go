// Package server exposes debate sessions over HTTP and pushes state changes
// to websocket subscribers.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"debate_simulator/internal/debate"
	"debate_simulator/internal/judge"
	"debate_simulator/internal/llm"
	"debate_simulator/internal/model"
	"debate_simulator/internal/store"
)

// Message is the envelope of every websocket frame.
type Message struct {
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	Data      interface{} `json:"data"`
}

func createMessage(msgType string, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now().Format(time.RFC3339),
		Data:      data,
	}
}

type Server struct {
	manager *debate.Manager
	log     logrus.FieldLogger
}

func New(manager *debate.Manager, logger logrus.FieldLogger) *Server {
	return &Server{manager: manager, log: logger}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", Healthz)
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Put("/settings/api-key", s.handleSetAPIKey)

		r.Route("/debates", func(r chi.Router) {
			r.Post("/", s.handleStartDebate)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDebate)
				r.Post("/turn", s.handleTurn)
				r.Post("/human", s.handleHuman)
				r.Put("/input", s.handleHumanInput)
				r.Put("/view", s.handleView)
				r.Put("/api-key", s.handleSessionAPIKey)
				r.Post("/judge", s.handleJudge)
				r.Post("/stop", s.handleStop)
				r.Post("/save", s.handleSave)
			})
		})

		r.Route("/history", func(r chi.Router) {
			r.Get("/", s.handleListHistory)
			r.Delete("/", s.handleClearHistory)
			r.Get("/{id}", s.handleGetHistory)
			r.Delete("/{id}", s.handleDeleteHistory)
			r.Post("/{id}/resume", s.handleResume)
		})
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("Request handled")
	})
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, debate.ErrSessionNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, debate.ErrBusy),
		errors.Is(err, debate.ErrHumanTurn),
		errors.Is(err, debate.ErrNotHumanTurn),
		errors.Is(err, debate.ErrNotActive),
		errors.Is(err, debate.ErrMaxTurns):
		return http.StatusConflict
	case errors.Is(err, debate.ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, errInvalidRequest),
		errors.Is(err, model.ErrEmptyTopic),
		errors.Is(err, model.ErrUnknownGameMode),
		errors.Is(err, debate.ErrContentTooShort),
		errors.Is(err, debate.ErrContentTooLong),
		errors.Is(err, judge.ErrNothingToJudge),
		errors.Is(err, llm.ErrMissingAPIKey):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	entry := s.log.WithError(err).WithField("path", r.URL.Path)
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errInvalidRequest
	}
	return nil
}

var errInvalidRequest = errors.New("invalid request body")

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*debate.Session, bool) {
	sess, err := s.manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	return sess, true
}
