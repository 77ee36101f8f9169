// Package queue carries jobs over the broker and runs their handlers under a
// retrying watermill router.
package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Guyuepp/videohub/domain"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
)

const (
	topicPrefix     = "jobs."
	DeadLetterTopic = "jobs.dead_letter"

	MetadataKind       = "job_kind"
	MetadataAttempt    = "attempt"
	MetadataEnqueuedAt = "enqueued_at"
)

func Topic(kind domain.JobKind) string {
	return topicPrefix + string(kind)
}

// Kinds lists every job kind the queue knows how to decode.
func Kinds() []domain.JobKind {
	return []domain.JobKind{domain.JobPopulateCache, domain.JobReconcileLikes, domain.JobTranscodeVideo}
}

// Decode turns a payload back into its job variant. Unknown kinds and
// malformed payloads are permanent: no retry will make them valid.
func Decode(kind domain.JobKind, payload []byte) (domain.Job, error) {
	var (
		job domain.Job
		err error
	)
	switch kind {
	case domain.JobPopulateCache:
		var j domain.PopulateCacheJob
		err = json.Unmarshal(payload, &j)
		if err == nil && j.Instance == "" {
			err = fmt.Errorf("missing instance: %w", domain.ErrBadParamInput)
		}
		job = j
	case domain.JobReconcileLikes:
		var j domain.ReconcileLikesJob
		err = json.Unmarshal(payload, &j)
		job = j
	case domain.JobTranscodeVideo:
		var j domain.TranscodeVideoJob
		err = json.Unmarshal(payload, &j)
		if err == nil && j.VideoID <= 0 {
			err = fmt.Errorf("missing video id: %w", domain.ErrBadParamInput)
		}
		job = j
	default:
		return nil, domain.Permanent(fmt.Errorf("unknown job kind %q", kind))
	}
	if err != nil {
		return nil, domain.Permanent(fmt.Errorf("decode %s job: %w", kind, err))
	}
	return job, nil
}

// Info reads the queue-side identity of a delivered job message.
func Info(msg *message.Message) domain.JobInfo {
	info := domain.JobInfo{
		ID:        msg.UUID,
		Kind:      domain.JobKind(msg.Metadata.Get(MetadataKind)),
		Attempt:   1,
		StartedAt: time.Now().UTC(),
	}
	if n, err := strconv.Atoi(msg.Metadata.Get(MetadataAttempt)); err == nil && n > 0 {
		info.Attempt = n
	}
	if t, err := time.Parse(time.RFC3339Nano, msg.Metadata.Get(MetadataEnqueuedAt)); err == nil {
		info.EnqueuedAt = t
	}
	return info
}

// Client publishes jobs.
type Client struct {
	pub message.Publisher
}

var _ domain.JobEnqueuer = (*Client)(nil)

func NewClient(pub message.Publisher) *Client {
	return &Client{pub: pub}
}

func (c *Client) Enqueue(ctx context.Context, job domain.Job) (string, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode %s job: %w", job.Kind(), err)
	}
	id := uuid.NewString()
	msg := message.NewMessage(id, payload)
	msg.Metadata.Set(MetadataKind, job.Kind().String())
	msg.Metadata.Set(MetadataEnqueuedAt, time.Now().UTC().Format(time.RFC3339Nano))
	msg.Metadata.Set(natsgo.MsgIdHdr, id)
	msg.SetContext(ctx)

	if err := c.pub.Publish(Topic(job.Kind()), msg); err != nil {
		return "", fmt.Errorf("enqueue %s job: %w", job.Kind(), err)
	}
	return id, nil
}
