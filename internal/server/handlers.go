package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"debate_simulator/internal/debate"
	"debate_simulator/internal/model"
)

type startDebateRequest struct {
	Topic    string `json:"topic"`
	GameMode string `json:"gameMode"`
}

func (s *Server) handleStartDebate(w http.ResponseWriter, r *http.Request) {
	var req startDebateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	mode := model.ModeAIvsAI
	if req.GameMode != "" {
		var err error
		if mode, err = model.ParseGameMode(req.GameMode); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	sess, err := s.manager.Start(r.Context(), req.Topic, mode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess.State())
}

func (s *Server) handleGetDebate(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

type argumentResponse struct {
	Argument model.Argument     `json:"argument"`
	State    *model.DebateState `json:"state"`
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	arg, err := sess.Advance(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, argumentResponse{Argument: arg, State: sess.State()})
}

type humanRequest struct {
	Content string `json:"content"`
	// AutoReply lets the AI answer right away.
	AutoReply bool `json:"autoReply"`
}

func (s *Server) handleHuman(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req humanRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	arg, err := sess.SubmitHuman(r.Context(), req.Content)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := humanResponse{Argument: arg}
	status := http.StatusOK
	if req.AutoReply {
		reply, err := sess.Advance(r.Context())
		switch {
		case err == nil:
			resp.Reply = &reply
		case errors.Is(err, debate.ErrMaxTurns), errors.Is(err, debate.ErrNotActive):
			// nothing left to answer
		default:
			// the human argument stays recorded
			status = statusFor(err)
			resp.AutoReplyError = err.Error()
			s.log.WithError(err).WithField("path", r.URL.Path).Warn("Auto reply failed")
		}
	}
	resp.State = sess.State()
	writeJSON(w, status, resp)
}

type humanResponse struct {
	Argument       model.Argument     `json:"argument"`
	Reply          *model.Argument    `json:"reply,omitempty"`
	AutoReplyError string             `json:"autoReplyError,omitempty"`
	State          *model.DebateState `json:"state"`
}

type humanInputRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleHumanInput(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req humanInputRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess.SetHumanInput(req.Text)
	writeJSON(w, http.StatusOK, sess.State())
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req debate.ViewUpdate
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess.UpdateView(req)
	writeJSON(w, http.StatusOK, sess.State())
}

func (s *Server) handleJudge(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if _, err := sess.Judge(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Stop(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	e, err := sess.Save(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type apiKeyRequest struct {
	APIKey string `json:"apiKey"`
}

func (s *Server) handleSetAPIKey(w http.ResponseWriter, r *http.Request) {
	var req apiKeyRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.manager.SetAPIKey(r.Context(), req.APIKey); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionAPIKey(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req apiKeyRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := sess.SetAPIKey(r.Context(), req.APIKey); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	list, err := s.manager.History(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	e, err := s.manager.HistoryEntry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.DeleteHistory(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.ClearHistory(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
