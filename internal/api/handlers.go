package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	chi "github.com/go-chi/chi/v5"

	"autopost_bot/internal/model"
	"autopost_bot/internal/scheduler"
)

type scheduleResponse struct {
	DestinationID int64     `json:"destination_id"`
	StartedAt     time.Time `json:"started_at"`
	NextFireAt    time.Time `json:"next_fire_at,omitzero"`
}

type itemResponse struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	PublishedAt time.Time `json:"published_at,omitzero"`
}

type destinationsResponse struct {
	Active    []int64            `json:"active"`
	Scheduled []scheduleResponse `json:"scheduled"`
}

// preferencesPatch holds raw filter input. Ids may be JSON numbers or strings.
// An absent field leaves the filter unchanged; an empty array clears it.
type preferencesPatch struct {
	Categories  *[]any `json:"categories"`
	Tags        *[]any `json:"tags"`
	AutoPosting *bool  `json:"auto_posting"`
}

func (s *Server) listDestinations(w http.ResponseWriter, _ *http.Request) {
	active := s.prefs.ListActive()
	if active == nil {
		active = []int64{}
	}
	writeJSON(w, http.StatusOK, destinationsResponse{
		Active:    active,
		Scheduled: schedules(s.sched.Scheduled()),
	})
}

func (s *Server) getPreferences(w http.ResponseWriter, r *http.Request) {
	id, ok := destinationID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.prefs.Get(id))
}

func (s *Server) patchPreferences(w http.ResponseWriter, r *http.Request) {
	id, ok := destinationID(w, r)
	if !ok {
		return
	}

	defer func() { _ = r.Body.Close() }()
	var req preferencesPatch
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := s.prefs.SetFilters(id, rawIDs(req.Categories), rawIDs(req.Tags))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	if req.AutoPosting != nil {
		if *req.AutoPosting {
			if err := s.sched.Start(id); err != nil {
				s.writeServiceError(w, err)
				return
			}
		} else {
			s.sched.Stop(id)
		}
		p = s.prefs.Get(id)
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) resetPreferences(w http.ResponseWriter, r *http.Request) {
	id, ok := destinationID(w, r)
	if !ok {
		return
	}
	s.sched.Stop(id)
	writeJSON(w, http.StatusOK, s.prefs.Reset(id))
}

func (s *Server) startAutopost(w http.ResponseWriter, r *http.Request) {
	id, ok := destinationID(w, r)
	if !ok {
		return
	}
	if err := s.sched.Start(id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schedules(s.sched.ListScheduled(id)))
}

func (s *Server) stopAutopost(w http.ResponseWriter, r *http.Request) {
	id, ok := destinationID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": s.sched.Stop(id)})
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := destinationID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, schedules(s.sched.ListScheduled(id)))
}

func (s *Server) postLatest(w http.ResponseWriter, r *http.Request) {
	id, ok := destinationID(w, r)
	if !ok {
		return
	}
	item, err := s.dispatch.PostLatest(r.Context(), id, nil)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(item))
}

func (s *Server) postSpecific(w http.ResponseWriter, r *http.Request) {
	id, ok := destinationID(w, r)
	if !ok {
		return
	}
	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil || itemID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	item, err := s.dispatch.PostSpecific(r.Context(), id, itemID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(item))
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrInvalidFilter):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrSourceUnavailable),
		errors.Is(err, model.ErrDeliveryFailed),
		errors.Is(err, model.ErrDeliveryRejected):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, scheduler.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Error("api request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func destinationID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid destination id")
		return 0, false
	}
	return id, true
}

func rawIDs(in *[]any) []string {
	if in == nil {
		return nil
	}
	out := make([]string, 0, len(*in))
	for _, v := range *in {
		switch v := v.(type) {
		case string:
			out = append(out, v)
		case float64:
			out = append(out, strconv.FormatFloat(v, 'f', -1, 64))
		default:
			out = append(out, fmt.Sprint(v))
		}
	}
	return out
}

func schedules(jobs []scheduler.JobInfo) []scheduleResponse {
	out := make([]scheduleResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, scheduleResponse{DestinationID: j.DestinationID, StartedAt: j.StartedAt, NextFireAt: j.NextFireAt})
	}
	return out
}

func toItemResponse(item model.Item) itemResponse {
	return itemResponse{ID: item.ID, Title: item.Title, Link: item.Link, PublishedAt: item.PublishedAt}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
