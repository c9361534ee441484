// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/tvscribe/internal/channels"
	xglog "github.com/ManuGH/tvscribe/internal/log"
	"github.com/ManuGH/tvscribe/internal/recording"
	"github.com/ManuGH/tvscribe/internal/status"
)

type startResponse struct {
	Started []string          `json:"started"`
	Skipped map[string]string `json:"skipped,omitempty"`
}

func (s *Server) handleCaptureStart(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Supervisor.StartAll(r.Context(), s.deps.Registry.Channels())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, startResponse{Started: report.Started, Skipped: report.Skipped})
}

type stopResponse struct {
	Stopped       []string `json:"stopped"`
	Hung          []string `json:"hung,omitempty"`
	CancelledJobs []string `json:"cancelled_jobs,omitempty"`
	HungJobs      []string `json:"hung_jobs,omitempty"`
}

// handleCaptureStop stops the capture workers and cancels in-flight
// recordings. Both run against the same timeout.
func (s *Server) handleCaptureStop(w http.ResponseWriter, _ *http.Request) {
	var resp stopResponse
	jobsDone := make(chan struct{})
	go func() {
		defer close(jobsDone)
		resp.CancelledJobs, resp.HungJobs = s.deps.Recorder.CancelAll(s.deps.StopTimeout)
	}()
	report := s.deps.Supervisor.StopAll(s.deps.StopTimeout)
	<-jobsDone
	resp.Stopped, resp.Hung = report.Stopped, report.Hung
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleForce(w http.ResponseWriter, _ *http.Request) {
	s.deps.Supervisor.ForceCaptureAll()
	writeJSON(w, http.StatusOK, map[string]bool{"force": s.deps.Supervisor.ForceActive()})
}

func (s *Server) handleClearForce(w http.ResponseWriter, _ *http.Request) {
	s.deps.Supervisor.ClearForceCapture()
	writeJSON(w, http.StatusOK, map[string]bool{"force": s.deps.Supervisor.ForceActive()})
}

func (s *Server) handlePause(paused bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if _, ok := s.deps.Registry.Get(name); !ok {
			writeError(w, fmt.Errorf("%w: %s", channels.ErrChannelNotFound, name))
			return
		}
		if err := s.deps.Supervisor.SetPaused(name, paused); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"name": name, "paused": paused})
	}
}

type statusResponse struct {
	status.Snapshot
	Force bool `json:"force"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Snapshot: s.deps.Status.Snapshot(), Force: s.deps.Supervisor.ForceActive()})
}

func (s *Server) handleListChannels(w http.ResponseWriter, _ *http.Request) {
	set := s.deps.Registry.Channels()
	names := channels.Names(set)
	out := make([]channels.Form, 0, len(names))
	for _, n := range names {
		out = append(out, channels.FormatForm(set[n]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ch, ok := s.deps.Registry.Get(name)
	if !ok {
		writeError(w, fmt.Errorf("%w: %s", channels.ErrChannelNotFound, name))
		return
	}
	writeJSON(w, http.StatusOK, channels.FormatForm(ch))
}

// handlePutChannel creates or replaces the channel at {name}. A different
// name in the body renames it.
func (s *Server) handlePutChannel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var form channels.Form
	if err := decode(w, r, &form); err != nil {
		writeError(w, err)
		return
	}
	if form.Name == "" {
		form.Name = name
	}
	ch, err := channels.ParseForm(form)
	if err != nil {
		writeError(w, err)
		return
	}

	previous := ""
	if existing, ok := s.deps.Registry.Get(name); ok {
		previous = name
		ch.Disabled = existing.Disabled
	}
	if err := s.deps.Registry.Put(previous, ch); err != nil {
		writeError(w, err)
		return
	}
	s.logger.Info().Str("event", "api.channel_saved").Str(xglog.FieldChannel, ch.Name).Msg("channel settings saved")
	writeJSON(w, http.StatusOK, channels.FormatForm(ch))
}

func (s *Server) handleDeleteChannel(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Registry.Delete(chi.URLParam(r, "name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type recordingRequest struct {
	Channel string `json:"channel"`
	// Minutes of zero uses the channel's resolved duration.
	Minutes int `json:"minutes"`
}

type jobView struct {
	ID       string `json:"id"`
	Channel  string `json:"channel"`
	Group    string `json:"group,omitempty"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Output   string `json:"output"`
	Minutes  int    `json:"minutes"`
	Error    string `json:"error,omitempty"`
}

func viewJob(j *recording.Job) jobView {
	v := jobView{
		ID:       j.ID,
		Channel:  j.Channel.Name,
		Group:    j.Group,
		Status:   j.Status().String(),
		Progress: j.Progress(),
		Output:   j.Output,
		Minutes:  int(j.Duration / time.Minute),
	}
	if err := j.Err(); err != nil {
		v.Error = err.Error()
	}
	return v
}

func (s *Server) minutes(m int) (time.Duration, error) {
	if m < 0 || m > channels.MaxDurationMinutes {
		return 0, channels.ValidationErrors{{Field: "minutes", Reason: fmt.Sprintf("must be between 1 and %d", channels.MaxDurationMinutes)}}
	}
	return time.Duration(m) * time.Minute, nil
}

func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	var req recordingRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	ch, ok := s.deps.Registry.Get(req.Channel)
	if !ok {
		writeError(w, fmt.Errorf("%w: %s", channels.ErrChannelNotFound, req.Channel))
		return
	}
	d, err := s.minutes(req.Minutes)
	if err != nil {
		writeError(w, err)
		return
	}
	j, err := s.deps.Recorder.StartJob(ch, d, recording.ManualTrigger)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, viewJob(j))
}

func (s *Server) handleGetRecording(w http.ResponseWriter, r *http.Request) {
	j, ok := s.deps.Recorder.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, recording.ErrJobNotFound)
		return
	}
	writeJSON(w, http.StatusOK, viewJob(j))
}

func (s *Server) handleCancelRecording(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Recorder.CancelJob(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type groupRequest struct {
	Channels []string `json:"channels"`
	Minutes  int      `json:"minutes"`
}

type groupResponse struct {
	Jobs   []jobView `json:"jobs"`
	Errors string    `json:"errors,omitempty"`
}

// handleStartGroup starts one job per listed channel, or per enabled channel
// when the list is empty.
func (s *Server) handleStartGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	d, err := s.minutes(req.Minutes)
	if err != nil {
		writeError(w, err)
		return
	}

	set := s.deps.Registry.Channels()
	names := req.Channels
	if len(names) == 0 {
		for _, n := range channels.Names(set) {
			if !set[n].Disabled {
				names = append(names, n)
			}
		}
	}
	sort.Strings(names)
	chans := make([]channels.Channel, 0, len(names))
	for _, n := range names {
		ch, ok := set[n]
		if !ok {
			writeError(w, fmt.Errorf("%w: %s", channels.ErrChannelNotFound, n))
			return
		}
		chans = append(chans, ch)
	}

	jobs, err := s.deps.Recorder.StartGroup(chi.URLParam(r, "group"), chans, d)
	resp := groupResponse{Jobs: make([]jobView, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, viewJob(j))
	}
	if err != nil {
		resp.Errors = err.Error()
	}
	code := http.StatusAccepted
	if len(jobs) == 0 && err != nil {
		code = http.StatusBadRequest
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleStopGroup(w http.ResponseWriter, r *http.Request) {
	n := s.deps.Recorder.StopGroup(chi.URLParam(r, "group"))
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": n})
}
