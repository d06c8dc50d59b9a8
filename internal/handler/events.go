package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"zeitgeist/internal/repository"
)

type EventHandler struct {
	Repo repository.Repository
}

func (h *EventHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/events", h.listEvents)
}

func (h *EventHandler) listEvents(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	params := repository.ListEventsParams{
		EventType: strings.TrimSpace(c.Query("type")),
		Limit:     intQuery(c, "limit", 100),
		Offset:    intQuery(c, "offset", 0),
	}
	if raw := strings.TrimSpace(c.Query("round_id")); raw != "" {
		roundID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			Error(c, http.StatusBadRequest, "invalid round id", nil)
			return
		}
		params.RoundID = &roundID
	}
	items, err := h.Repo.ListEvents(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(params.Limit, params.Offset, int64(len(items))))
}
