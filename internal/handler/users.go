package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"zeitgeist/internal/ledger"
	"zeitgeist/internal/repository"
)

type UserHandler struct {
	Repo repository.Repository
}

func (h *UserHandler) Register(r *gin.Engine) {
	users := r.Group("/api/v1/users")
	users.GET("/:pubkey/stats", h.userStats)
	users.GET("/:pubkey/predictions", h.userPredictions)
	users.GET("/:pubkey/winnings", h.unclaimedWinnings)

	board := r.Group("/api/v1/leaderboard")
	board.GET("", h.leaderboard)
	board.GET("/winners", h.topWinners)
	board.GET("/streaks", h.topStreaks)

	r.GET("/api/v1/stats", h.globalStats)
}

func userParam(c *gin.Context) (string, bool) {
	raw := strings.TrimSpace(c.Param("pubkey"))
	if _, err := ledger.PublicKeyFromBase58(raw); err != nil {
		Error(c, http.StatusBadRequest, "invalid pubkey", nil)
		return "", false
	}
	return raw, true
}

func (h *UserHandler) userStats(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	user, ok := userParam(c)
	if !ok {
		return
	}
	stats, err := h.Repo.GetUserStats(c.Request.Context(), user)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if stats == nil {
		Error(c, http.StatusNotFound, "no stats for user", nil)
		return
	}
	Ok(c, stats, nil)
}

func (h *UserHandler) userPredictions(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	user, ok := userParam(c)
	if !ok {
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	items, err := h.Repo.ListPredictionsByUser(c.Request.Context(), user, limit, offset)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, int64(len(items))))
}

func (h *UserHandler) unclaimedWinnings(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	user, ok := userParam(c)
	if !ok {
		return
	}
	items, err := h.Repo.ListUnclaimedWinnings(c.Request.Context(), user)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	var total uint64
	for _, p := range items {
		total += p.Payout
	}
	Ok(c, items, map[string]any{"total_unclaimed": total})
}

func (h *UserHandler) leaderboard(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	items, err := h.Repo.ListLeaderboard(c.Request.Context(), limit, offset)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, int64(len(items))))
}

func (h *UserHandler) topWinners(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListTopWinners(c.Request.Context(), intQuery(c, "limit", 10))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

func (h *UserHandler) topStreaks(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListTopStreaks(c.Request.Context(), intQuery(c, "limit", 10))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

func (h *UserHandler) globalStats(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	stats, err := h.Repo.GetGlobalStats(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, stats, nil)
}
