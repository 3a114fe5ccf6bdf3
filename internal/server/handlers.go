package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/expstat/expstat/internal/experiment"
	"github.com/expstat/expstat/internal/stats"
)

type HealthResponse struct {
	Status           string `json:"status"`
	ExperimentsCount int    `json:"experiments_count"`
	DBSizeBytes      int64  `json:"db_size_bytes"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	experiments, err := s.svc.ListExperiments(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	var dbSize int64
	row := s.store.DB().QueryRowContext(r.Context(),
		"SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()")
	if err := row.Scan(&dbSize); err != nil {
		s.log.Warn().Err(err).Msg("failed to read database size")
	}

	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:           "ok",
		ExperimentsCount: len(experiments),
		DBSizeBytes:      dbSize,
		UptimeSeconds:    int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	experiments, err := s.svc.ListExperiments(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	// Return empty array instead of null
	if experiments == nil {
		experiments = []*experiment.Experiment{}
	}
	s.writeJSON(w, http.StatusOK, experiments)
}

func (s *Server) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	e, err := s.svc.GetExperiment(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.Results(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// AssignRequest names the variant a unit was assigned to.
type AssignRequest struct {
	Variant string `json:"variant"`
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Variant == "" {
		s.writeJSONError(w, http.StatusBadRequest, "missing required field: variant")
		return
	}

	rec, err := s.svc.RecordAssignment(r.Context(), chi.URLParam(r, "ref"), req.Variant)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

// EventRequest is an inbound outcome. Outcome accepts the forms of
// experiment.ParseOutcome.
type EventRequest struct {
	ExperimentID string `json:"experimentId"`
	VariantID    string `json:"variantId"`
	Outcome      string `json:"outcome"`
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ExperimentID == "" || req.VariantID == "" {
		s.writeJSONError(w, http.StatusBadRequest, "missing required fields")
		return
	}
	outcome, err := experiment.ParseOutcome(req.Outcome)
	if err != nil {
		s.writeError(w, err)
		return
	}

	rec, err := s.svc.RecordOutcome(r.Context(), experiment.Event{
		ExperimentID: req.ExperimentID,
		VariantID:    req.VariantID,
		Outcome:      outcome,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	v, err := s.svc.SelectArm(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleInterim(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.PerformInterimAnalysis(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if res.Exhausted {
		s.writeJSON(w, http.StatusConflict, res)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// writeError maps engine and store errors to HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, experiment.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, experiment.ErrModeMismatch),
		errors.Is(err, experiment.ErrCheckExists),
		errors.Is(err, stats.ErrPlanNotFound),
		errors.Is(err, stats.ErrPlanExhausted):
		status = http.StatusConflict
	case errors.Is(err, stats.ErrInvalidRange),
		errors.Is(err, stats.ErrInvalidPrior),
		errors.Is(err, stats.ErrInsufficientVariants),
		errors.Is(err, stats.ErrInsufficientData),
		errors.Is(err, experiment.ErrUnknownMode):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
		s.writeJSONError(w, status, "internal server error")
		return
	}
	s.writeJSONError(w, status, err.Error())
}

// writeJSON encodes before writing so an encode failure still gets a
// proper status instead of a truncated body.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		s.log.Warn().Err(err).Int("status", status).Msg("failed to encode response")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"internal server error"}` + "\n"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.log.Warn().Err(err).Msg("failed to write response")
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
