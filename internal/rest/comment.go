package rest

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Guyuepp/videohub/domain"
	"github.com/Guyuepp/videohub/internal/rest/request"
	"github.com/Guyuepp/videohub/internal/rest/response"
	"github.com/gin-gonic/gin"
)

type CommentHandler struct {
	Service domain.CommentUsecase
}

func NewCommentHandler(svc domain.CommentUsecase) *CommentHandler {
	return &CommentHandler{
		Service: svc,
	}
}

func (h *CommentHandler) CreateComment(c *gin.Context) {
	var req request.Comment
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
		return
	}
	uid, ok := userID(c)
	if !ok {
		return
	}
	vid, ok := pathID(c, "id")
	if !ok {
		return
	}

	comment := req.ToDomain(vid, uid)
	if err := h.Service.Create(c.Request.Context(), &comment); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.NewSingleCommentFromDomain(&comment))
}

// DeleteComment 删除当前用户在该视频下的评论
func (h *CommentHandler) DeleteComment(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	vid, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.Service.Delete(c.Request.Context(), vid, uid); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CommentHandler) FetchCommentsByVideo(c *gin.Context) {
	num, err := strconv.Atoi(c.Query("num"))
	if err != nil || num < PageMinNum || num > PageMaxNum {
		num = DefaultPageNum
	}
	vid, ok := pathID(c, "id")
	if !ok {
		return
	}

	comments, nextCursor, err := h.Service.FetchByVideo(c.Request.Context(), vid, c.Query("cursor"), int64(num))
	if err != nil {
		fail(c, err)
		return
	}
	res := make([]*response.Comment, len(comments))
	for i, cm := range comments {
		res[i] = response.NewCommentFromDomain(cm)
	}
	c.Header("X-cursor", nextCursor)
	c.JSON(http.StatusOK, gin.H{"comments": res})
}

func (h *CommentHandler) Like(c *gin.Context) {
	h.like(c, h.Service.Like)
}

func (h *CommentHandler) Unlike(c *gin.Context) {
	h.like(c, h.Service.Unlike)
}

func (h *CommentHandler) ToggleLike(c *gin.Context) {
	h.like(c, h.Service.ToggleLike)
}

func (h *CommentHandler) like(c *gin.Context, op func(ctx context.Context, userID, commentID int64) (domain.LikeResult, error)) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	cid, ok := pathID(c, "id")
	if !ok {
		return
	}

	res, err := op(c.Request.Context(), uid, cid)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, response.NewLikeFromDomain(res))
}
