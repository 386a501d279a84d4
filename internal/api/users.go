package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/fundscout/internal/model"
	"github.com/sells-group/fundscout/internal/report"
	"github.com/sells-group/fundscout/internal/session"
)

type fundsResponse struct {
	Funds   []model.Fund   `json:"funds"`
	Summary report.Summary `json:"summary"`
	State   model.RunState `json:"state"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type searchRequest struct {
	Analyze bool `json:"analyze"`
}

type searchResponse struct {
	RunID string `json:"run_id"`
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	tier := model.Tier(r.URL.Query().Get("tier"))
	if tier == "" {
		tier = model.TierPremium
	}
	if !tier.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown tier %q", tier))
		return
	}
	users, err := s.profiles.ListProfilesByTier(r.Context(), tier)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if users == nil {
		users = []model.ProfileSummary{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.profiles.LoadProfile(r.Context(), param(r, "user"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) putProfile(w http.ResponseWriter, r *http.Request) {
	var p model.Profile
	if err := decode(r, &p, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p.CompanyName = strings.TrimSpace(p.CompanyName)
	if p.CompanyName == "" {
		writeError(w, http.StatusBadRequest, "company_name is required")
		return
	}
	if p.Tier == "" {
		p.Tier = model.TierDemo
	}
	if !p.Tier.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown tier %q", p.Tier))
		return
	}
	if err := s.profiles.SaveProfile(r.Context(), param(r, "user"), &p); err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(r.Context(), param(r, "user"))
	if err != nil {
		writeFailure(w, r, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) listFunds(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	funds := sess.Funds()
	if funds == nil {
		funds = []model.Fund{}
	}
	writeJSON(w, http.StatusOK, fundsResponse{
		Funds:   funds,
		Summary: report.Summarize(funds),
		State:   sess.State(),
	})
}

func (s *Server) setFundStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Status = strings.TrimSpace(req.Status)
	if req.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	name := param(r, "name")
	if !sess.SetStatus(name, req.Status) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("fund %q not found", name))
		return
	}
	f, _ := sess.Fund(name)
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) searchState(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

func (s *Server) startSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decode(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user := param(r, "user")
	profile, err := s.profiles.LoadProfile(r.Context(), user)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if profile == nil {
		writeError(w, http.StatusBadRequest, "profile is required before searching")
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	runID := sess.Start(profile, session.RunOptions{Analyze: req.Analyze})
	zap.L().Info("api: search started", zap.String("user", user), zap.String("run_id", runID))
	writeJSON(w, http.StatusAccepted, searchResponse{RunID: runID})
}

func (s *Server) stopSearch(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Stop()
	writeJSON(w, http.StatusOK, sess.State())
}

// events streams session changes as server-sent events. Each event carries
// the run state and the full fund list; a slow client only sees the latest
// change.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	updates := make(chan session.Event, 1)
	unsubscribe := sess.Subscribe(func(ev session.Event) {
		for {
			select {
			case updates <- ev:
				return
			default:
			}
			// Drop the stale event and retry with the newer one.
			select {
			case <-updates:
			default:
			}
		}
	})
	defer unsubscribe()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	var seq int
	send := func(ev session.Event) bool {
		if ev.Funds == nil {
			ev.Funds = []model.Fund{}
		}
		data, err := json.Marshal(ev)
		if err != nil {
			zap.L().Warn("api: encode event", zap.Error(err))
			return true
		}
		seq++
		if _, err := fmt.Fprintf(w, "id: %d\nevent: session\ndata: %s\n\n", seq, data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(session.Event{UserID: sess.UserID(), State: sess.State(), Funds: sess.Funds()}) {
		return
	}

	heartbeat := time.NewTicker(s.cfg.Heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-updates:
			if !send(ev) {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) exportReport(w http.ResponseWriter, r *http.Request) {
	format, err := report.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := report.Write(&buf, format, sess.Funds()); err != nil {
		writeFailure(w, r, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.FileName(format, s.now())))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Logout(param(r, "user"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit := jobLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, jobLimit)
	}
	list, err := s.jobs.List(r.Context(), param(r, "user"), limit)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if list == nil {
		list = []model.Job{}
	}
	writeJSON(w, http.StatusOK, list)
}
