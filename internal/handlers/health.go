package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/comparador/price-search/internal/database"
)

// Pinger reports cache reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Cache    string `json:"cache"`
}

// HealthCheck reports the health of the database and the result cache.
// 200 when both are reachable, 503 otherwise.
func HealthCheck(cache Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		response := HealthResponse{Status: "ok", Database: "connected", Cache: "connected"}
		status := http.StatusOK

		if err := database.Status(ctx); err != nil {
			response.Database = "disconnected"
			status = http.StatusServiceUnavailable
		}
		if err := cache.Ping(ctx); err != nil {
			response.Cache = "disconnected"
			status = http.StatusServiceUnavailable
		}
		if status != http.StatusOK {
			response.Status = "error"
		}

		c.JSON(status, response)
	}
}
