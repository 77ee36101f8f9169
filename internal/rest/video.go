package rest

import (
	"net/http"

	"github.com/Guyuepp/videohub/domain"
	"github.com/Guyuepp/videohub/internal/rest/request"
	"github.com/Guyuepp/videohub/internal/rest/response"
	"github.com/gin-gonic/gin"
)

type VideoHandler struct {
	Service domain.VideoUsecase
}

func NewVideoHandler(svc domain.VideoUsecase) *VideoHandler {
	return &VideoHandler{Service: svc}
}

func (h *VideoHandler) Create(c *gin.Context) {
	var req request.Video
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
		return
	}
	uid, ok := userID(c)
	if !ok {
		return
	}

	v := req.ToDomain(uid)
	if err := h.Service.Create(c.Request.Context(), &v); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.NewVideoFromDomain(&v))
}

// UpdateStatus is called by the media pipeline as a video moves through processing.
func (h *VideoHandler) UpdateStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req request.VideoStatus
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
		return
	}

	if err := h.Service.UpdateStatus(c.Request.Context(), id, req.Status, req.ErrorMessage); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *VideoHandler) StatusHistory(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	logs, err := h.Service.StatusHistory(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"video_id": id, "history": response.NewStatusHistoryFromDomain(logs)})
}
