package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Guyuepp/videohub/domain"
	"github.com/Guyuepp/videohub/internal/metrics"
	"github.com/Guyuepp/videohub/internal/queue"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/sirupsen/logrus"
)

// Result is what a job reports on success; it only ends up in logs.
type Result map[string]any

// Handler processes one job variant. The lifecycle hooks are explicit so a
// handler can override any of them; embedding Hooks gives the defaults.
type Handler[J domain.Job] interface {
	ProcessJob(ctx context.Context, job J) (Result, error)

	OnStart(ctx context.Context, info domain.JobInfo)
	OnSuccess(ctx context.Context, info domain.JobInfo, res Result, took time.Duration)
	OnFailure(ctx context.Context, info domain.JobInfo, err error, took time.Duration)
}

// Hooks logs lifecycle events and records job metrics.
type Hooks struct {
	Recorder *metrics.Recorder
}

func jobFields(info domain.JobInfo) logrus.Fields {
	return logrus.Fields{
		"job_id":  info.ID,
		"kind":    info.Kind,
		"attempt": info.Attempt,
	}
}

func (h Hooks) OnStart(_ context.Context, info domain.JobInfo) {
	h.Recorder.JobStarted(info.Kind.String())
	log := logrus.WithFields(jobFields(info))
	if !info.EnqueuedAt.IsZero() {
		log = log.WithField("queued_for", info.StartedAt.Sub(info.EnqueuedAt).String())
	}
	log.Info("job started")
}

func (h Hooks) OnSuccess(_ context.Context, info domain.JobInfo, res Result, took time.Duration) {
	h.Recorder.JobFinished(info.Kind.String(), nil, took)
	logrus.WithFields(jobFields(info)).
		WithFields(logrus.Fields(res)).
		WithField("took", took.String()).
		Info("job completed")
}

func (h Hooks) OnFailure(_ context.Context, info domain.JobInfo, err error, took time.Duration) {
	h.Recorder.JobFinished(info.Kind.String(), err, took)
	log := logrus.WithFields(jobFields(info)).WithError(err).WithField("took", took.String())
	if errors.Is(err, domain.ErrPermanent) || errors.Is(err, domain.ErrConfiguration) {
		log.Error("job failed permanently")
		return
	}
	log.Warn("job failed")
}

// Execute runs one attempt of job through h. It never retries and returns
// the handler's error unchanged; retry policy belongs to the queue.
func Execute[J domain.Job](ctx context.Context, h Handler[J], info domain.JobInfo, job J) (Result, error) {
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now().UTC()
	}
	if info.Kind == "" {
		info.Kind = job.Kind()
	}

	h.OnStart(ctx, info)
	start := time.Now()
	res, err := h.ProcessJob(ctx, job)
	took := time.Since(start)
	if err != nil {
		h.OnFailure(ctx, info, err, took)
		return nil, err
	}
	h.OnSuccess(ctx, info, res, took)
	return res, nil
}

// Bind adapts h to a queue handler for J's kind.
func Bind[J domain.Job](h Handler[J]) message.NoPublishHandlerFunc {
	var zero J
	kind := zero.Kind()
	return func(msg *message.Message) error {
		info := queue.Info(msg)
		info.Kind = kind

		job, err := decodeJob[J](kind, msg.Payload)
		if err != nil {
			h.OnFailure(msg.Context(), info, err, 0)
			return err
		}
		_, err = Execute(msg.Context(), h, info, job)
		return err
	}
}

func decodeJob[J domain.Job](kind domain.JobKind, payload []byte) (J, error) {
	var zero J
	decoded, err := queue.Decode(kind, payload)
	if err != nil {
		return zero, err
	}
	job, ok := decoded.(J)
	if !ok {
		return zero, domain.Permanent(fmt.Errorf("%s payload decoded to %T", kind, decoded))
	}
	return job, nil
}

// Register binds h on router for J's kind.
func Register[J domain.Job](router *queue.Router, sub message.Subscriber, h Handler[J]) {
	var zero J
	router.HandleJob(zero.Kind(), sub, Bind(h))
}
