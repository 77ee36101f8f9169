package workers

import (
	"context"
	"errors"

	"github.com/Guyuepp/videohub/domain"
)

// PopulateCacheHandler seeds or rebuilds one membership instance.
type PopulateCacheHandler struct {
	Hooks
	Membership domain.MembershipUsecase
}

var _ Handler[domain.PopulateCacheJob] = (*PopulateCacheHandler)(nil)

func (h *PopulateCacheHandler) ProcessJob(ctx context.Context, job domain.PopulateCacheJob) (Result, error) {
	stats, err := h.Membership.Populate(ctx, job.Instance, job.Rebuild)
	if err != nil {
		if errors.Is(err, domain.ErrConfiguration) {
			return nil, domain.Permanent(err)
		}
		return nil, err
	}
	return Result{
		"instance":   stats.Instance,
		"generation": stats.Generation,
		"batches":    stats.Batches,
		"keys":       stats.Keys,
		"skipped":    stats.Skipped,
	}, nil
}
