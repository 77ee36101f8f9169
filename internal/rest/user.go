package rest

import (
	"net/http"

	"github.com/Guyuepp/videohub/domain"
	"github.com/Guyuepp/videohub/internal/rest/request"
	"github.com/Guyuepp/videohub/internal/rest/response"
	"github.com/gin-gonic/gin"
)

type UserHandler struct {
	Service domain.UserUsecase
}

func NewUserHandler(svc domain.UserUsecase) *UserHandler {
	return &UserHandler{Service: svc}
}

func (h *UserHandler) Register(c *gin.Context) {
	var req request.Register
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
		return
	}

	u, err := h.Service.Register(c.Request.Context(), req.Name, req.Email)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.NewUserFromDomain(u))
}

// EmailAvailability is the signup form pre-check.
func (h *UserHandler) EmailAvailability(c *gin.Context) {
	email := c.Query("email")
	if email == "" {
		c.JSON(http.StatusBadRequest, ResponseError{Message: "email is required"})
		return
	}

	ok, err := h.Service.EmailAvailable(c.Request.Context(), email)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"email": email, "available": ok})
}
