package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/SatoshiKawabata/rainy-talk-api/internal/chat"
	"github.com/SatoshiKawabata/rainy-talk-api/internal/models"
)

// InitializeRequest provisions a room with its participants in one call.
type InitializeRequest struct {
	RoomName string `json:"chat_room_name"`
	Users    []struct {
		Name    string `json:"name"`
		Persona string `json:"persona"`
		IsAgent bool   `json:"is_agent"`
	} `json:"users"`
}

// InitializeResponse carries the room, its memberships and the created
// users.
type InitializeResponse struct {
	Room    models.Room     `json:"room"`
	Members []models.Member `json:"members"`
	Users   []models.User   `json:"users"`
}

// Initialize handles chat provisioning: users, room and memberships.
func (h *Handler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req InitializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.RoomName = sanitizeName(req.RoomName)
	if req.RoomName == "" {
		h.Error(w, http.StatusBadRequest, "chat_room_name is required")
		return
	}
	if len(req.Users) == 0 {
		h.Error(w, http.StatusBadRequest, "users are required")
		return
	}

	initUsers := make([]chat.InitUser, 0, len(req.Users))
	agents := 0
	for _, u := range req.Users {
		name := sanitizeName(u.Name)
		if name == "" {
			h.Error(w, http.StatusBadRequest, "every user needs a name")
			return
		}
		if u.IsAgent {
			agents++
		}
		initUsers = append(initUsers, chat.InitUser{
			Name:    name,
			Persona: u.Persona,
			IsAgent: u.IsAgent,
		})
	}
	if agents < 2 {
		h.Error(w, http.StatusBadRequest, "at least two agent users are required")
		return
	}

	room, members, users, err := h.svc.InitializeChat(r.Context(), req.RoomName, initUsers)
	if err != nil {
		h.StoreError(w, err)
		return
	}

	h.JSON(w, http.StatusCreated, InitializeResponse{
		Room:    *room,
		Members: members,
		Users:   users,
	})
}

// ListRooms handles listing all rooms.
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.store.ListRooms(r.Context())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to list rooms")
		return
	}
	if rooms == nil {
		rooms = []models.Room{}
	}
	h.JSON(w, http.StatusOK, rooms)
}

// GetRoom handles fetching a single room.
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.roomIDParam(w, r)
	if !ok {
		return
	}

	room, err := h.store.GetRoom(r.Context(), roomID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if room == nil {
		h.Error(w, http.StatusNotFound, "room not found")
		return
	}
	h.JSON(w, http.StatusOK, room)
}

// GetRoomMembers handles fetching a room's members.
func (h *Handler) GetRoomMembers(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.roomIDParam(w, r)
	if !ok {
		return
	}

	room, err := h.store.GetRoom(r.Context(), roomID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if room == nil {
		h.Error(w, http.StatusNotFound, "room not found")
		return
	}

	members, err := h.store.GetMembers(r.Context(), roomID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to fetch members")
		return
	}
	if members == nil {
		members = []models.Member{}
	}
	h.JSON(w, http.StatusOK, members)
}

// GetRoomMessages handles dumping a room's message chain in id order.
func (h *Handler) GetRoomMessages(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.roomIDParam(w, r)
	if !ok {
		return
	}

	room, err := h.store.GetRoom(r.Context(), roomID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if room == nil {
		h.Error(w, http.StatusNotFound, "room not found")
		return
	}

	messages, err := h.store.ListByRoom(r.Context(), roomID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to fetch messages")
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	h.JSON(w, http.StatusOK, messages)
}

// SetPersonaRequest carries a member persona override.
type SetPersonaRequest struct {
	Persona string `json:"persona"`
}

// SetMemberPersona handles updating a member's room-level persona override.
// An empty persona clears the override back to the user's default.
func (h *Handler) SetMemberPersona(w http.ResponseWriter, r *http.Request) {
	memberID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid member ID format")
		return
	}

	var req SetPersonaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	member, err := h.store.SetMemberPersona(r.Context(), memberID, req.Persona)
	if err != nil {
		h.StoreError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, member)
}

func (h *Handler) roomIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	roomID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room ID format")
		return uuid.Nil, false
	}
	return roomID, true
}
