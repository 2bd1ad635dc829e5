package adapthttp

import (
	"net/http"
)

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TgID string `json:"tgId"`
		Name string `json:"name"`
	}
	if err := parseJSON(r, &body); err != nil {
		writeError(w, "Failed to create user", err)
		return
	}
	u, err := s.users.Register(r.Context(), body.TgID, body.Name)
	if err != nil {
		writeError(w, "Failed to create user", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "User created successfully", "userId": u.ID})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.users.Get(r.Context(), r.PathValue("tgId"))
	if err != nil {
		writeError(w, "User not found", err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
