package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/glothriel/airlink/pkg/fastconnect"
)

// TokenListItem is a fast-connect entry without its PIN
type TokenListItem struct {
	MAC     string `json:"mac"`
	TokenID uint32 `json:"tokenId"`
}

type tokensController struct {
	store fastconnect.Store
}

func (tc *tokensController) registerRoutes(r *gin.Engine, s ServerSettings) {
	r.GET("/api/tokens/v1", func(c *gin.Context) {
		entries, err := tc.store.List()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": err.Error(),
			})
			return
		}
		items := make([]TokenListItem, 0, len(entries))
		for _, entry := range entries {
			items = append(items, TokenListItem{MAC: entry.MAC, TokenID: entry.TokenID})
		}
		c.JSON(http.StatusOK, items)
	})

	protected := r.Group("/api/tokens")
	protected.Use(RequireBasicAuth(s))

	protected.DELETE("v1/:mac", func(c *gin.Context) {
		if err := tc.store.Remove(c.Param("mac")); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": err.Error(),
			})
			return
		}
		c.Status(http.StatusNoContent)
	})
	protected.DELETE("v1", func(c *gin.Context) {
		if err := tc.store.Clear(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": err.Error(),
			})
			return
		}
		c.Status(http.StatusNoContent)
	})
}

// NewTokensController allows listing and revoking cached fast-connect tokens
func NewTokensController(store fastconnect.Store) Controller {
	return &tokensController{store: store}
}
