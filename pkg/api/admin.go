// Package api contains the local status API used for querying pairing sessions and managing fast-connect tokens
package api

import (
	"github.com/gin-gonic/gin"
)

// Controller contains a set of functionalities for the API
type Controller interface {
	registerRoutes(r *gin.Engine, s ServerSettings)
}

// NewAdminAPI bootstraps the creation of the gin engine
func NewAdminAPI(controllers []Controller, settings ServerSettings) *gin.Engine {
	if !settings.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	if settings.Debug {
		r.Use(gin.Logger())
	}
	for _, controller := range controllers {
		controller.registerRoutes(r, settings)
	}
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "Sensors are paired over the air, one characteristic at a time.",
		})
	})
	return r
}
