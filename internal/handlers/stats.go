package handlers

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/SatoshiKawabata/rainy-talk-api/internal/models"
)

// RoomStats represents stats for a single room.
type RoomStats struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MessageCount int64  `json:"message_count"`
}

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	TotalRooms    int         `json:"total_rooms"`
	TotalMessages int64       `json:"total_messages"`
	LastActivity  string      `json:"last_activity"`
	TopRooms      []RoomStats `json:"top_rooms"`
}

// Stats returns aggregate conversation statistics.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.store.ListRooms(r.Context())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to list rooms")
		return
	}

	var totalMessages int64
	var lastActivityTime *time.Time
	for i := range rooms {
		totalMessages += rooms[i].MessageCount
		if rooms[i].MessageCount == 0 {
			continue
		}
		if lastActivityTime == nil || rooms[i].LastActiveAt.After(*lastActivityTime) {
			lastActivityTime = &rooms[i].LastActiveAt
		}
	}

	lastActivity := "no activity yet"
	if lastActivityTime != nil {
		lastActivity = formatTimeAgo(*lastActivityTime)
	}

	sorted := make([]models.Room, len(rooms))
	copy(sorted, rooms)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].MessageCount > sorted[j].MessageCount
	})
	if len(sorted) > 5 {
		sorted = sorted[:5]
	}

	topRooms := make([]RoomStats, 0, len(sorted))
	for _, room := range sorted {
		if room.MessageCount == 0 {
			continue
		}
		topRooms = append(topRooms, RoomStats{
			ID:           room.ID.String(),
			Name:         room.Name,
			MessageCount: room.MessageCount,
		})
	}

	h.JSON(w, http.StatusOK, StatsResponse{
		TotalRooms:    len(rooms),
		TotalMessages: totalMessages,
		LastActivity:  lastActivity,
		TopRooms:      topRooms,
	})
}

// formatTimeAgo formats a time as a human-readable "X ago" string.
func formatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return strconv.Itoa(mins) + " minutes ago"
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return strconv.Itoa(hours) + " hours ago"
	default:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return strconv.Itoa(days) + " days ago"
	}
}
