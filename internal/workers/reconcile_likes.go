package workers

import (
	"context"

	"github.com/Guyuepp/videohub/domain"
)

// ReconcileLikesHandler rewrites like counters from the like records.
type ReconcileLikesHandler struct {
	Hooks
	Comments domain.CommentUsecase
}

var _ Handler[domain.ReconcileLikesJob] = (*ReconcileLikesHandler)(nil)

func (h *ReconcileLikesHandler) ProcessJob(ctx context.Context, job domain.ReconcileLikesJob) (Result, error) {
	if len(job.CommentIDs) == 0 {
		return Result{"reconciled": 0}, nil
	}
	n, err := h.Comments.ReconcileLikes(ctx, job.CommentIDs)
	if err != nil {
		return nil, err
	}
	return Result{"reconciled": n, "requested": len(job.CommentIDs)}, nil
}
