package workers

import (
	"context"
	"errors"
	"fmt"

	"github.com/Guyuepp/videohub/domain"
)

// TranscodeVideoHandler hands an uploaded video to the transcoding service
// and moves it to the transcoding status.
type TranscodeVideoHandler struct {
	Hooks
	Videos    domain.VideoRepository
	Usecase   domain.VideoUsecase
	Requester domain.TranscodeRequester
}

var _ Handler[domain.TranscodeVideoJob] = (*TranscodeVideoHandler)(nil)

func (h *TranscodeVideoHandler) ProcessJob(ctx context.Context, job domain.TranscodeVideoJob) (Result, error) {
	v, err := h.Videos.GetByID(ctx, job.VideoID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.Permanent(fmt.Errorf("video %d: %w", job.VideoID, err))
	}
	if err != nil {
		return nil, err
	}
	if v.Status != domain.VideoProcessing {
		// a redelivered job for a video already past this step
		return Result{"video_id": v.ID, "skipped": true, "status": string(v.Status)}, nil
	}

	// the source event id lets the transcoder drop a repeated request
	if err := h.Requester.RequestTranscode(ctx, v.ID, job.SourceEventID); err != nil {
		return nil, err
	}
	if err := h.Usecase.UpdateStatus(ctx, v.ID, domain.VideoTranscoding, ""); err != nil {
		return nil, err
	}
	return Result{"video_id": v.ID, "skipped": false}, nil
}
