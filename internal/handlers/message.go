package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/SatoshiKawabata/rainy-talk-api/internal/chat"
)

// PostMessageRequest represents the post message request. PlayedFraction,
// when present, reports how much of the parent turn was actually played
// back before the sender cut in; the parent's stored content is truncated
// to match.
type PostMessageRequest struct {
	RoomID         string   `json:"room_id"`
	UserID         string   `json:"user_id"`
	Content        string   `json:"content"`
	ParentID       *int64   `json:"parent_message_id,omitempty"`
	PlayedFraction *float64 `json:"played_fraction,omitempty"`
}

// PostMessage handles appending a message to a room's chain.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	roomID, err := uuid.Parse(req.RoomID)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room ID format")
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid user ID format")
		return
	}
	if req.Content == "" {
		h.Error(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.PlayedFraction != nil && (*req.PlayedFraction < 0 || *req.PlayedFraction > 1) {
		h.Error(w, http.StatusBadRequest, "played_fraction must be between 0 and 1")
		return
	}

	msg, err := h.svc.PostMessage(r.Context(), chat.PostMessageParams{
		RoomID:         roomID,
		UserID:         userID,
		Content:        req.Content,
		ParentID:       req.ParentID,
		PlayedFraction: req.PlayedFraction,
	})
	if err != nil {
		h.StoreError(w, err)
		return
	}

	h.JSON(w, http.StatusCreated, msg)
}

// NextMessage handles fetching (or generating) the turn that follows a
// message. The call blocks until the turn exists, a poll-wait times out,
// or generation fails.
func (h *Handler) NextMessage(w http.ResponseWriter, r *http.Request) {
	messageID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid message ID format")
		return
	}

	msg, err := h.svc.RequestNextMessage(r.Context(), messageID)
	if err != nil {
		h.StoreError(w, err)
		return
	}

	h.JSON(w, http.StatusOK, msg)
}
