package adapthttp

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"weightsvc/internal/domain"
)

func (s *Server) handleAddMeasurement(w http.ResponseWriter, r *http.Request) {
	var body domain.Measurement
	if err := parseJSON(r, &body); err != nil {
		writeError(w, "Failed to add measurement", err)
		return
	}
	m, err := s.measurements.AddForUser(r.Context(), body, r.PathValue("tgId"))
	if err != nil {
		writeError(w, "Failed to add measurement", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Measurement added successfully", "measurementId": m.ID})
}

func (s *Server) handleAddMeasurementByTgID(w http.ResponseWriter, r *http.Request) {
	var env domain.Envelope
	if err := parseJSON(r, &env); err != nil {
		writeError(w, "Failed to add measurement", err)
		return
	}
	m, err := s.measurements.AddByCorrelationKey(r.Context(), env)
	if err != nil {
		writeError(w, "Failed to add measurement", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Measurement added successfully", "measurementId": m.ID})
}

func (s *Server) handleUserMeasurements(w http.ResponseWriter, r *http.Request) {
	items, err := s.measurements.GetByUser(r.Context(), r.PathValue("tgId"))
	if err != nil {
		writeError(w, "Measurements not found", err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleGetMeasurement(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, "Measurement not found", err)
		return
	}
	m, err := s.measurements.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, "Measurement not found", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDeleteMeasurement(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, "Failed to delete measurement", err)
		return
	}
	if err := s.measurements.DeleteByID(r.Context(), id); err != nil {
		writeError(w, "Failed to delete measurement", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Measurement deleted successfully"})
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, errors.Wrapf(domain.ErrValidation, "invalid measurement id %q", r.PathValue("id"))
	}
	return id, nil
}
