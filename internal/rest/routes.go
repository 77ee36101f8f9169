package rest

import (
	"net/http"

	"github.com/Guyuepp/videohub/internal/rest/middleware"
	"github.com/gin-gonic/gin"
)

type Routes struct {
	Users    *UserHandler
	Videos   *VideoHandler
	Comments *CommentHandler
	Admin    *AdminHandler
	Metrics  http.Handler
	// Health reports readiness; nil means always healthy.
	Health func() error
}

func (r Routes) Register(route *gin.Engine) {
	route.GET("/healthz", r.healthz)
	if r.Metrics != nil {
		route.GET("/metrics", gin.WrapH(r.Metrics))
	}

	route.POST("/users", r.Users.Register)
	route.GET("/users/email-availability", r.Users.EmailAvailability)

	route.GET("/videos/:id/status-history", r.Videos.StatusHistory)
	route.PATCH("/videos/:id/status", r.Videos.UpdateStatus)
	route.GET("/videos/:id/comments", r.Comments.FetchCommentsByVideo)

	authorized := route.Group("/")
	authorized.Use(middleware.RequireUser())
	{
		authorized.POST("/videos", r.Videos.Create)
		authorized.POST("/videos/:id/comments", r.Comments.CreateComment)
		authorized.DELETE("/videos/:id/comments", r.Comments.DeleteComment)
		authorized.POST("/comments/:id/like", r.Comments.Like)
		authorized.DELETE("/comments/:id/like", r.Comments.Unlike)
		authorized.POST("/comments/:id/like/toggle", r.Comments.ToggleLike)
	}

	admin := route.Group("/admin")
	{
		admin.GET("/membership/:name", r.Admin.MembershipState)
		admin.POST("/membership/:name/rebuild", r.Admin.RebuildMembership)
		admin.POST("/outbox/requeue", r.Admin.RequeueOutbox)
	}
}

func (r Routes) healthz(c *gin.Context) {
	if r.Health != nil {
		if err := r.Health(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
