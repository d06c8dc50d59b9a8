package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"zeitgeist/internal/oracle"
)

type PriceHandler struct {
	Cache *oracle.Cache
}

func (h *PriceHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/prices", h.listPrices)
	r.GET("/api/v1/prices/:symbol", h.getPrice)
}

func (h *PriceHandler) listPrices(c *gin.Context) {
	if h.Cache == nil {
		Error(c, http.StatusInternalServerError, "cache unavailable", nil)
		return
	}
	Ok(c, h.Cache.Snapshot(), nil)
}

func (h *PriceHandler) getPrice(c *gin.Context) {
	if h.Cache == nil {
		Error(c, http.StatusInternalServerError, "cache unavailable", nil)
		return
	}
	symbol := strings.TrimSpace(c.Param("symbol"))
	price, ok := h.Cache.Get(symbol)
	if !ok {
		Error(c, http.StatusNotFound, "no price for symbol", nil)
		return
	}
	Ok(c, price, nil)
}
