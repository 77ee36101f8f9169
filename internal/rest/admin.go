package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/Guyuepp/videohub/domain"
	"github.com/Guyuepp/videohub/internal/rest/response"
	"github.com/gin-gonic/gin"
)

const defaultRequeueLimit = 500

// OutboxRequeuer moves FAILED outbox events back to PENDING.
type OutboxRequeuer interface {
	RequeueFailed(ctx context.Context, limit int) (int64, error)
}

type AdminHandler struct {
	Membership domain.MembershipGate
	Jobs       domain.JobEnqueuer
	Outbox     OutboxRequeuer
}

func NewAdminHandler(m domain.MembershipGate, jobs domain.JobEnqueuer, outbox OutboxRequeuer) *AdminHandler {
	return &AdminHandler{Membership: m, Jobs: jobs, Outbox: outbox}
}

func (h *AdminHandler) membershipError(c *gin.Context, err error) {
	if errors.Is(err, domain.ErrConfiguration) {
		c.JSON(http.StatusNotFound, ResponseError{Message: err.Error()})
		return
	}
	fail(c, err)
}

func (h *AdminHandler) MembershipState(c *gin.Context) {
	name := c.Param("name")
	// 管理端要看最新状态, 不走进程内缓存
	h.Membership.Invalidate(name)
	st, err := h.Membership.State(c.Request.Context(), name)
	if err != nil {
		h.membershipError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.NewCacheStateFromDomain(st))
}

// RebuildMembership queues a rebuild; a NOT_INITIALIZED instance gets its first population.
func (h *AdminHandler) RebuildMembership(c *gin.Context) {
	name := c.Param("name")
	st, err := h.Membership.State(c.Request.Context(), name)
	if err != nil {
		h.membershipError(c, err)
		return
	}

	job := domain.PopulateCacheJob{Instance: name, Rebuild: st.Ready()}
	jobID, err := h.Jobs.Enqueue(c.Request.Context(), job)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "instance": name, "rebuild": job.Rebuild})
}

func (h *AdminHandler) RequeueOutbox(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultRequeueLimit)))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, ResponseError{Message: "limit must be a positive integer"})
		return
	}

	n, err := h.Outbox.RequeueFailed(c.Request.Context(), limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requeued": n})
}
