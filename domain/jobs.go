package domain

import (
	"context"
	"time"
)

type JobKind string

const (
	JobPopulateCache  JobKind = "cache.populate"
	JobReconcileLikes JobKind = "likes.reconcile"
	JobTranscodeVideo JobKind = "video.transcode"
)

func (k JobKind) String() string {
	return string(k)
}

// Job is the closed set of queued work. Only types in this package implement it.
type Job interface {
	Kind() JobKind
	isJob()
}

// PopulateCacheJob seeds a membership instance; Rebuild builds a fresh generation of a READY one.
type PopulateCacheJob struct {
	Instance string `json:"instance"`
	Rebuild  bool   `json:"rebuild"`
}

func (PopulateCacheJob) Kind() JobKind { return JobPopulateCache }
func (PopulateCacheJob) isJob()        {}

// ReconcileLikesJob recounts the like counters of the given comments.
type ReconcileLikesJob struct {
	CommentIDs []int64 `json:"commentIds"`
}

func (ReconcileLikesJob) Kind() JobKind { return JobReconcileLikes }
func (ReconcileLikesJob) isJob()        {}

// TranscodeVideoJob asks the media pipeline to transcode an uploaded video.
type TranscodeVideoJob struct {
	VideoID       int64  `json:"videoId"`
	SourceEventID string `json:"sourceEventId"`
}

func (TranscodeVideoJob) Kind() JobKind { return JobTranscodeVideo }
func (TranscodeVideoJob) isJob()        {}

// JobInfo is the queue-side identity of one execution attempt.
type JobInfo struct {
	ID         string
	Kind       JobKind
	Attempt    int
	EnqueuedAt time.Time
	StartedAt  time.Time
}

// JobEnqueuer hands jobs to the queue.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, job Job) (string, error)
}

// TranscodeRequester asks the transcoding service to start work. It is a remote call.
type TranscodeRequester interface {
	RequestTranscode(ctx context.Context, videoID int64, requestID string) error
}
