package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/SatoshiKawabata/rainy-talk-api/internal/models"
)

// CreateUserRequest represents the user creation request.
type CreateUserRequest struct {
	Name    string `json:"name"`
	Persona string `json:"persona"`
	IsAgent bool   `json:"is_agent"`
}

// CreateUser handles creating a single user outside of chat initialization.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.Name = sanitizeName(req.Name)
	if req.Name == "" {
		h.Error(w, http.StatusBadRequest, "name is required")
		return
	}

	user, err := h.store.CreateUser(r.Context(), req.Name, req.Persona, req.IsAgent)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	h.JSON(w, http.StatusCreated, user)
}

// GetUsers handles batch user lookup: ?ids=<uuid>,<uuid>&agents_only=true.
// Unknown ids are skipped; the response preserves the requested order.
func (h *Handler) GetUsers(w http.ResponseWriter, r *http.Request) {
	idsParam := r.URL.Query().Get("ids")
	if idsParam == "" {
		h.Error(w, http.StatusBadRequest, "ids query parameter is required")
		return
	}

	var ids []uuid.UUID
	for _, raw := range strings.Split(idsParam, ",") {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			h.Error(w, http.StatusBadRequest, "invalid user ID format: "+raw)
			return
		}
		ids = append(ids, id)
	}

	agentsOnly := r.URL.Query().Get("agents_only") == "true"

	users, err := h.store.GetUsers(r.Context(), ids, agentsOnly)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to fetch users")
		return
	}
	if users == nil {
		users = []models.User{}
	}
	h.JSON(w, http.StatusOK, users)
}
