package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/TriagePipe/internal/messaging"
	"github.com/BTreeMap/TriagePipe/internal/models"
	"github.com/BTreeMap/TriagePipe/internal/session"
	"github.com/BTreeMap/TriagePipe/internal/speech"
	"github.com/BTreeMap/TriagePipe/internal/triage"
	"github.com/BTreeMap/TriagePipe/internal/turn"
	"github.com/gorilla/mux"
)

// Voice-mode event types accepted by POST /sessions/{id}/events.
const (
	EventPlaybackEnded = "playback_ended"
	EventSkip          = "skip"
	EventStopListening = "stop_listening"
	EventTranscript    = "transcript"
)

type createSessionRequest struct {
	Locale  string `json:"locale"`
	Country string `json:"country"`
	Voice   bool   `json:"voice"`
	VoiceID string `json:"voiceId,omitempty"`
}

type answerRequest struct {
	Text string `json:"text"`
}

type eventRequest struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Final bool   `json:"final,omitempty"`
}

type textRequest struct {
	Text   string `json:"text"`
	Locale string `json:"locale,omitempty"`
}

type shortlistRequest struct {
	To string `json:"to"`
}

// turnResponse is returned by every request that drives the controller.
type turnResponse struct {
	SessionID string                `json:"sessionId"`
	Locale    models.Locale         `json:"locale"`
	Phase     models.PhaseType      `json:"phase"`
	Outputs   []turn.Output         `json:"outputs"`
	Result    *models.ConsultResult `json:"result,omitempty"`
}

type questionView struct {
	Key   models.QuestionKey `json:"key"`
	Text  string             `json:"text"`
	Index int                `json:"index"`
	Total int                `json:"total"`
}

type sessionView struct {
	SessionID string                `json:"sessionId"`
	Locale    models.Locale         `json:"locale"`
	Country   string                `json:"country,omitempty"`
	Voice     bool                  `json:"voice"`
	State     models.StateType      `json:"state"`
	Phase     models.PhaseType      `json:"phase"`
	Question  *questionView         `json:"question,omitempty"`
	Answered  int                   `json:"answered"`
	Trend     models.Trend          `json:"emotionalTrend"`
	CreatedAt time.Time             `json:"createdAt"`
	Result    *models.ConsultResult `json:"result,omitempty"`
}

type extractResponse struct {
	Data    models.TriageData     `json:"data"`
	Risk    *models.RiskLevel     `json:"risk,omitempty"`
	Urgency models.UrgencyContext `json:"urgency"`
}

// createSessionHandler handles POST /sessions
func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, err := s.sessions.Create(req.Locale, req.Country)
	if err != nil {
		slog.Warn("Server.createSessionHandler: invalid session request", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	live := &liveSession{buf: newOutputBuffer()}
	opts := append([]turn.Option(nil), s.turnOpts...)
	if req.Voice {
		live.capture = &clientCapture{}
		opts = append(opts, turn.WithCapture(live.capture))
		if s.synth != nil {
			live.player = &clientPlayer{present: live.buf.Present}
			opts = append(opts, turn.WithSpeech(s.synth, live.player))
		}
		if req.VoiceID != "" {
			opts = append(opts, turn.WithVoice(req.VoiceID))
		}
	}
	live.ctrl = turn.New(sess, live.buf, s.finalizer, opts...)
	sess.SetRuntime(live)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := live.ctrl.Run(s.ctx); err != nil && !errors.Is(err, turn.ErrClosed) {
			slog.Info("Server.createSessionHandler: controller stopped", "sessionID", sess.ID, "error", err)
		}
		s.retire(sess, live)
	}()

	slog.Info("Server.createSessionHandler: session started", "sessionID", sess.ID, "voice", req.Voice)
	s.respondTurn(w, r, http.StatusCreated, sess, live, true)
}

// answerHandler handles POST /sessions/{id}/answers
func (s *Server) answerHandler(w http.ResponseWriter, r *http.Request) {
	sess, live, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req answerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := models.ValidateAnswer(req.Text); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if finished(live) {
		writeJSONResponse(w, http.StatusConflict, models.Error("Session already finished"))
		return
	}
	live.ctrl.Answer(req.Text)
	s.respondTurn(w, r, http.StatusOK, sess, live, true)
}

// eventHandler handles POST /sessions/{id}/events
func (s *Server) eventHandler(w http.ResponseWriter, r *http.Request) {
	sess, live, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req eventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if finished(live) {
		writeJSONResponse(w, http.StatusConflict, models.Error("Session already finished"))
		return
	}

	wait := true
	switch req.Type {
	case EventPlaybackEnded:
		if live.player == nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Session has no audio playback"))
			return
		}
		if !live.player.playbackEnded() {
			slog.Debug("Server.eventHandler: no playback in progress", "sessionID", sess.ID)
		}
	case EventSkip:
		live.ctrl.Skip()
	case EventStopListening:
		if !live.voice() {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Session is not in voice mode"))
			return
		}
		live.ctrl.StopListening()
	case EventTranscript:
		if !live.voice() {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Session is not in voice mode"))
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: text"))
			return
		}
		if !live.capture.deliver(speech.Transcript{Text: req.Text, Final: req.Final}) {
			writeJSONResponse(w, http.StatusConflict, models.Error("Not listening"))
			return
		}
		wait = req.Final
	default:
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Unknown event type: "+req.Type))
		return
	}
	s.respondTurn(w, r, http.StatusOK, sess, live, wait)
}

// retire disposes a session whose controller has stopped, keeping its consult
// result, if any, for the retention period. A session already disposed by
// DELETE or the idle sweep keeps nothing.
func (s *Server) retire(sess *session.Session, live *liveSession) {
	if res, ok := live.ctrl.Result(); ok {
		s.results.put(finishedSession{
			ID:        sess.ID,
			Locale:    sess.Locale,
			Country:   sess.CountryCode,
			Voice:     live.voice(),
			Answered:  len(sess.Flow.Answers()),
			Trend:     sess.Journey.Trend(),
			CreatedAt: sess.CreatedAt,
			Result:    res,
		})
	}
	if !s.sessions.Dispose(sess.ID) {
		s.results.remove(sess.ID)
		return
	}
	slog.Info("Server.retire: finished session disposed", "sessionID", sess.ID)
}

// getSessionHandler handles GET /sessions/{id}
func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	if f, ok := s.results.get(mux.Vars(r)["id"]); ok {
		writeJSONResponse(w, http.StatusOK, models.Success(f.view()))
		return
	}
	sess, live, ok := s.lookup(w, r)
	if !ok {
		return
	}
	view := sessionView{
		SessionID: sess.ID,
		Locale:    sess.Locale,
		Country:   sess.CountryCode,
		Voice:     live.voice(),
		State:     sess.Flow.State(),
		Phase:     live.ctrl.Phase(),
		Answered:  len(sess.Flow.Answers()),
		Trend:     sess.Journey.Trend(),
		CreatedAt: sess.CreatedAt,
	}
	if q, ok := sess.Flow.Current(); ok && view.State == models.StateAsking {
		view.Question = &questionView{
			Key:   q.Key,
			Text:  q.PromptFor(sess.Locale),
			Index: sess.Flow.Index() + 1,
			Total: len(sess.Flow.ActiveKeys()),
		}
	}
	if res, ok := live.ctrl.Result(); ok {
		view.Result = &res
	}
	writeJSONResponse(w, http.StatusOK, models.Success(view))
}

// deleteSessionHandler handles DELETE /sessions/{id}
func (s *Server) deleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	disposed := s.sessions.Dispose(id)
	if forgotten := s.results.remove(id); !disposed && !forgotten {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	slog.Info("Server.deleteSessionHandler: session abandoned", "sessionID", id)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session deleted", nil))
}

// shortlistSMSHandler handles POST /sessions/{id}/shortlist/sms
func (s *Server) shortlistSMSHandler(w http.ResponseWriter, r *http.Request) {
	if s.shortlist == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Text messaging not configured"))
		return
	}
	id := mux.Vars(r)["id"]
	f, ok := s.results.get(id)
	if !ok {
		sess, live, found := s.lookup(w, r)
		if !found {
			return
		}
		res, done := live.ctrl.Result()
		if !done {
			writeJSONResponse(w, http.StatusConflict, models.Error("No consult result yet"))
			return
		}
		f = finishedSession{ID: sess.ID, Locale: sess.Locale, Result: res}
	}
	var req shortlistRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res := f.Result
	if err := s.shortlist.SendShortlist(r.Context(), req.To, f.ID, res.Clinics, f.Locale); err != nil {
		if errors.Is(err, messaging.ErrInvalidRecipient) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Error("Server.shortlistSMSHandler: send failed", "sessionID", f.ID, "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Failed to send shortlist"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Shortlist sent", map[string]int{"clinics": len(res.Clinics)}))
}

// sentimentHandler handles POST /sentiment
func (s *Server) sentimentHandler(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := models.ValidateAnswer(req.Text); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	sample := s.classifier.Classify(req.Text, models.NormalizeLocale(req.Locale))
	writeJSONResponse(w, http.StatusOK, models.Success(sample))
}

// extractHandler handles POST /triage/extract
func (s *Server) extractHandler(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := models.ValidateAnswer(req.Text); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	data := s.extractor.ExtractText(req.Text)
	writeJSONResponse(w, http.StatusOK, models.Success(extractResponse{
		Data:    data,
		Risk:    triage.ClassifyRisk(data),
		Urgency: triage.Assess(data),
	}))
}

// outcomesHandler handles GET /outcomes?limit=n
func (s *Server) outcomesHandler(w http.ResponseWriter, r *http.Request) {
	if s.outcomes == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Outcome store not configured"))
		return
	}
	limit := DefaultOutcomesLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("limit must be a positive integer"))
			return
		}
		limit = n
	}
	outcomes, err := s.outcomes.ListOutcomes(limit)
	if err != nil {
		slog.Error("Server.outcomesHandler: list failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list outcomes"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(outcomes))
}

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"sessions":  s.sessions.Len(),
		"finished":  s.results.len(),
	})
}

// lookup resolves the {id} route variable to a live API session. It writes a
// 409 for a finished session and a 404 when there is none.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, *liveSession, bool) {
	id := mux.Vars(r)["id"]
	if sess, ok := s.sessions.Get(id); ok {
		if live, ok := sess.Runtime().(*liveSession); ok {
			return sess, live, true
		}
	}
	if _, ok := s.results.get(id); ok {
		writeJSONResponse(w, http.StatusConflict, models.Error("Session already finished"))
		return nil, nil, false
	}
	writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
	return nil, nil, false
}

func finished(live *liveSession) bool {
	select {
	case <-live.ctrl.Done():
		return true
	default:
		return false
	}
}

// respondTurn optionally waits for the controller to need input again, then
// returns every output buffered since the last request.
func (s *Server) respondTurn(w http.ResponseWriter, r *http.Request, status int, sess *session.Session, live *liveSession, wait bool) {
	if wait {
		live.buf.wait(r.Context(), live.ctrl.Done(), s.waitTimeout)
	}
	resp := turnResponse{
		SessionID: sess.ID,
		Locale:    sess.Locale,
		Phase:     live.ctrl.Phase(),
		Outputs:   live.buf.drain(),
	}
	if res, ok := live.ctrl.Result(); ok {
		resp.Result = &res
		writeJSONResponse(w, status, models.Finished(resp))
		return
	}
	writeJSONResponse(w, status, models.Success(resp))
}
