// Package handlers contains the gin HTTP handlers. They translate transport
// concerns (binding, status codes) and delegate everything else to the
// search coordinator.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/comparador/price-search/internal/search"
)

// Searcher is the coordinator surface the handler needs.
type Searcher interface {
	Search(ctx context.Context, query string, forceRefresh bool) (*search.Response, error)
}

// SearchRequest holds the query parameters of the search endpoint.
type SearchRequest struct {
	Query        string `form:"query" binding:"required,min=3,max=100"`
	ForceRefresh bool   `form:"force_refresh"`
}

// Search handles GET /api/v1/search/.
//
// Invalid input is rejected with 422 before the coordinator runs; coordinator
// errors are infrastructure failures and map to 503. Internal detail never
// leaks to the response body.
func Search(coordinator Searcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SearchRequest
		if err := c.ShouldBindQuery(&req); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error": "query is required and must be between 3 and 100 characters",
			})
			return
		}

		resp, err := coordinator.Search(c.Request.Context(), req.Query, req.ForceRefresh)
		if err != nil {
			if errors.Is(err, search.ErrInvalidQuery) {
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
				return
			}
			log.Error().Err(err).Str("query", req.Query).Msg("Search failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "search backend unavailable"})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}
