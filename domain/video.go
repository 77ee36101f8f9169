package domain

import (
	"context"
	"time"
)

// MembershipVideoIDs is the membership instance holding video ids.
const MembershipVideoIDs = "video.ids"

type VideoStatus string

const (
	VideoProcessing   VideoStatus = "processing"
	VideoTranscoding  VideoStatus = "transcoding"
	VideoTranscribing VideoStatus = "transcribing"
	VideoSummarizing  VideoStatus = "summarizing"
	VideoCompleted    VideoStatus = "completed"
	VideoFailed       VideoStatus = "failed"
)

func (s VideoStatus) Valid() bool {
	switch s {
	case VideoProcessing, VideoTranscoding, VideoTranscribing, VideoSummarizing, VideoCompleted, VideoFailed:
		return true
	}
	return false
}

// Video is an uploaded video and its processing state.
type Video struct {
	ID           int64
	UserID       int64
	Title        string
	SourceURL    string
	Status       VideoStatus
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// VideoStatusLog is one entry of a video's status history.
type VideoStatusLog struct {
	ID           int64
	VideoID      int64
	Status       VideoStatus
	ErrorMessage string
	CreatedAt    time.Time
}

type VideoRepository interface {
	Store(ctx context.Context, v *Video) error
	GetByID(ctx context.Context, id int64) (Video, error)
	// UpdateStatus returns ErrNotFound if the video doesn't exist.
	UpdateStatus(ctx context.Context, id int64, status VideoStatus, errMsg string) error
	Exists(ctx context.Context, id int64) (bool, error)
	// FetchIDs pages video ids in ascending order after cursor.
	FetchIDs(ctx context.Context, cursor int64, limit int) ([]int64, error)
}

type VideoStatusLogRepository interface {
	// Latest returns ErrNotFound when the video has no history yet.
	Latest(ctx context.Context, videoID int64) (VideoStatusLog, error)
	Append(ctx context.Context, l *VideoStatusLog) error
	FetchByVideo(ctx context.Context, videoID int64) ([]VideoStatusLog, error)
}

type VideoUsecase interface {
	Create(ctx context.Context, v *Video) error
	UpdateStatus(ctx context.Context, id int64, status VideoStatus, errMsg string) error
	StatusHistory(ctx context.Context, id int64) ([]VideoStatusLog, error)

	// RecordStatus appends to the history unless the status equals the latest one.
	RecordStatus(ctx context.Context, videoID int64, status VideoStatus, errMsg string) (bool, error)
}
