package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode"

	"github.com/SatoshiKawabata/rainy-talk-api/internal/chat"
	"github.com/SatoshiKawabata/rainy-talk-api/internal/generator"
	"github.com/SatoshiKawabata/rainy-talk-api/internal/scheduler"
	"github.com/SatoshiKawabata/rainy-talk-api/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	svc   *chat.Service
	store store.Store
	sched scheduler.Scheduler
}

// NewHandler creates a new Handler.
func NewHandler(svc *chat.Service, st store.Store, sched scheduler.Scheduler) *Handler {
	return &Handler{svc: svc, store: st, sched: sched}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// StoreError maps a storage or generation error to an HTTP error response.
func (h *Handler) StoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrChainConflict), errors.Is(err, store.ErrInterrupted):
		h.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrMissingParent):
		h.Error(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, store.ErrPollTimeout):
		h.Error(w, http.StatusGatewayTimeout, "timed out waiting for the next message")
	case errors.Is(err, store.ErrBrokenChain):
		h.Error(w, http.StatusConflict, "message chain was broken and rolled back")
	case errors.Is(err, generator.ErrGeneratorFailure):
		h.Error(w, http.StatusBadGateway, "dialogue generation failed")
	default:
		h.Error(w, http.StatusInternalServerError, "internal error")
	}
}

// sanitizeName trims and limits name to 100 characters, removing control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	// Remove control characters
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	// Limit to 100 characters
	if len(name) > 100 {
		name = name[:100]
	}

	return name
}
