package video

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/Guyuepp/videohub/domain"
	"github.com/sirupsen/logrus"
)

const aggregateType = "video"

type Service struct {
	tx        domain.Transactor
	videoRepo domain.VideoRepository
	logRepo   domain.VideoStatusLogRepository
	gate      domain.MembershipGate
	outbox    domain.OutboxWriter
}

var _ domain.VideoUsecase = (*Service)(nil)

func NewService(tx domain.Transactor, v domain.VideoRepository, l domain.VideoStatusLogRepository, gate domain.MembershipGate, outbox domain.OutboxWriter) *Service {
	return &Service{
		tx:        tx,
		videoRepo: v,
		logRepo:   l,
		gate:      gate,
		outbox:    outbox,
	}
}

// Create stores the video as processing and announces the upload in the same
// transaction.
func (s *Service) Create(ctx context.Context, v *domain.Video) error {
	v.Title = strings.TrimSpace(v.Title)
	if v.Title == "" || v.UserID <= 0 || v.SourceURL == "" {
		return domain.ErrBadParamInput
	}
	v.Status = domain.VideoProcessing
	v.ErrorMessage = ""

	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.videoRepo.Store(ctx, v); err != nil {
			return err
		}
		_, err := s.outbox.Append(ctx, domain.OutboxDraft{
			AggregateType: aggregateType,
			AggregateID:   strconv.FormatInt(v.ID, 10),
			EventType:     domain.TopicVideoUploaded,
			Payload:       domain.VideoUploadedEvent{VideoID: v.ID, UserID: v.UserID, SourceURL: v.SourceURL},
		})
		return err
	})
	if err != nil {
		return err
	}

	if err := s.gate.Add(ctx, domain.MembershipVideoIDs, strconv.FormatInt(v.ID, 10)); err != nil {
		// membership 消费者收到 video.uploaded 后会重试添加
		logrus.WithError(err).WithField("video_id", v.ID).Warn("add video to membership filter failed")
	}
	return nil
}

func (s *Service) UpdateStatus(ctx context.Context, id int64, status domain.VideoStatus, errMsg string) error {
	if !status.Valid() {
		return domain.ErrBadParamInput
	}
	if status != domain.VideoFailed {
		errMsg = ""
	}
	return s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.videoRepo.UpdateStatus(ctx, id, status, errMsg); err != nil {
			return err
		}
		_, err := s.outbox.Append(ctx, domain.OutboxDraft{
			AggregateType: aggregateType,
			AggregateID:   strconv.FormatInt(id, 10),
			EventType:     domain.TopicVideoStatusChanged,
			Payload:       domain.VideoStatusChangedEvent{VideoID: id, Status: status, ErrorMessage: errMsg},
		})
		return err
	})
}

func (s *Service) RecordStatus(ctx context.Context, videoID int64, status domain.VideoStatus, errMsg string) (bool, error) {
	latest, err := s.logRepo.Latest(ctx, videoID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return false, err
	case latest.Status == status:
		return false, nil
	}
	entry := &domain.VideoStatusLog{VideoID: videoID, Status: status, ErrorMessage: errMsg}
	if err := s.logRepo.Append(ctx, entry); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) StatusHistory(ctx context.Context, id int64) ([]domain.VideoStatusLog, error) {
	if _, err := s.videoRepo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.logRepo.FetchByVideo(ctx, id)
}
