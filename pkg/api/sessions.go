package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/glothriel/airlink/pkg/pairing"
)

// SessionSource lists pairing sessions known to the process
type SessionSource interface {
	List() []pairing.Snapshot
	Get(id string) (pairing.Snapshot, bool)
}

// SessionCloser gives access to live sessions
type SessionCloser interface {
	Session(id string) (*pairing.Session, bool)
}

type sessionsController struct {
	sessions SessionSource
	closer   SessionCloser
}

func (sc *sessionsController) registerRoutes(r *gin.Engine, s ServerSettings) {
	r.GET("/api/sessions/v1", func(c *gin.Context) {
		c.JSON(http.StatusOK, sc.sessions.List())
	})
	r.GET("/api/sessions/v1/:id", func(c *gin.Context) {
		snapshot, found := sc.sessions.Get(c.Param("id"))
		if !found {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "no such session",
			})
			return
		}
		c.JSON(http.StatusOK, snapshot)
	})

	protected := r.Group("/api/sessions")
	protected.Use(RequireBasicAuth(s))
	protected.DELETE("v1/:id", func(c *gin.Context) {
		var session *pairing.Session
		live := false
		if sc.closer != nil {
			session, live = sc.closer.Session(c.Param("id"))
		}
		if !live {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "no such live session",
			})
			return
		}
		if err := session.Close(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": err.Error(),
			})
			return
		}
		c.Status(http.StatusNoContent)
	})
}

// NewSessionsController allows observing pairing sessions and dropping live links. A nil closer
// serves the sessions read-only.
func NewSessionsController(sessions SessionSource, closer SessionCloser) Controller {
	return &sessionsController{sessions: sessions, closer: closer}
}
