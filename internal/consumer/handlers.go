package consumer

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Guyuepp/videohub/domain"
	"github.com/Guyuepp/videohub/internal/metrics"
	"github.com/Guyuepp/videohub/internal/queue"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
)

// Consumer groups. Each group keeps its own ledger and receives every event.
const (
	GroupVideoPipeline  = "video-pipeline"
	GroupVideoStatusLog = "video-status-log"
	GroupMembership     = "membership"

	DeadLetterTopic = "dead_letter.events"
)

// SubscriberFactory hands out a subscriber per consumer group.
type SubscriberFactory interface {
	Subscriber(group string) (message.Subscriber, error)
}

type Handlers struct {
	videos domain.VideoUsecase
	gate   domain.MembershipGate
	jobs   domain.JobEnqueuer

	pipeline  *Ledger
	statusLog *Ledger
	members   *Ledger
}

func NewHandlers(tx domain.Transactor, ledger domain.ProcessedMessageRepository, videos domain.VideoUsecase, gate domain.MembershipGate, jobs domain.JobEnqueuer, recorder *metrics.Recorder) *Handlers {
	return &Handlers{
		videos:    videos,
		gate:      gate,
		jobs:      jobs,
		pipeline:  NewLedger(tx, ledger, GroupVideoPipeline, recorder),
		statusLog: NewLedger(tx, ledger, GroupVideoStatusLog, recorder),
		members:   NewLedger(tx, ledger, GroupMembership, recorder),
	}
}

// Register subscribes every handler on router.
func (h *Handlers) Register(router *queue.Router, subs SubscriberFactory) error {
	routes := []struct {
		group, topic string
		fn           message.NoPublishHandlerFunc
	}{
		{GroupVideoPipeline, domain.TopicVideoUploaded, h.VideoUploaded},
		{GroupVideoStatusLog, domain.TopicVideoStatusChanged, h.VideoStatusChanged},
		{GroupMembership, domain.TopicUserRegistered, h.UserRegistered},
		{GroupMembership, domain.TopicVideoUploaded, h.VideoAnnounced},
	}
	for _, rt := range routes {
		sub, err := subs.Subscriber(rt.group)
		if err != nil {
			return err
		}
		router.Handle(rt.group+"."+rt.topic, rt.topic, sub, rt.fn)
	}
	return nil
}

func decode[T any](msg *message.Message, topic string) (T, error) {
	var v T
	if err := json.Unmarshal(msg.Payload, &v); err != nil {
		return v, domain.Permanent(fmt.Errorf("decode %s payload: %w", topic, err))
	}
	return v, nil
}

// VideoUploaded kicks off transcoding.
func (h *Handlers) VideoUploaded(msg *message.Message) error {
	ev, err := decode[domain.VideoUploadedEvent](msg, domain.TopicVideoUploaded)
	if err != nil {
		return err
	}
	if ev.VideoID <= 0 {
		return domain.Permanent(fmt.Errorf("%s %s: missing video id", domain.TopicVideoUploaded, msg.UUID))
	}
	_, err = h.pipeline.ProcessRemote(msg.Context(), msg.UUID, domain.TopicVideoUploaded, func(ctx context.Context) error {
		_, err := h.jobs.Enqueue(ctx, domain.TranscodeVideoJob{VideoID: ev.VideoID, SourceEventID: msg.UUID})
		return err
	})
	return err
}

// VideoStatusChanged appends to the video's status history.
func (h *Handlers) VideoStatusChanged(msg *message.Message) error {
	ev, err := decode[domain.VideoStatusChangedEvent](msg, domain.TopicVideoStatusChanged)
	if err != nil {
		return err
	}
	if ev.VideoID <= 0 || !ev.Status.Valid() {
		return domain.Permanent(fmt.Errorf("%s %s: invalid video id or status", domain.TopicVideoStatusChanged, msg.UUID))
	}
	_, err = h.statusLog.Process(msg.Context(), msg.UUID, domain.TopicVideoStatusChanged, func(ctx context.Context) error {
		_, err := h.videos.RecordStatus(ctx, ev.VideoID, ev.Status, ev.ErrorMessage)
		return err
	})
	return err
}

// UserRegistered adds the email to the membership filter.
func (h *Handlers) UserRegistered(msg *message.Message) error {
	ev, err := decode[domain.UserRegisteredEvent](msg, domain.TopicUserRegistered)
	if err != nil {
		return err
	}
	if ev.Email == "" {
		return domain.Permanent(fmt.Errorf("%s %s: missing email", domain.TopicUserRegistered, msg.UUID))
	}
	_, err = h.members.ProcessRemote(msg.Context(), msg.UUID, domain.TopicUserRegistered, func(ctx context.Context) error {
		return h.gate.Add(ctx, domain.MembershipUserEmails, ev.Email)
	})
	return err
}

// VideoAnnounced adds the new video id to the membership filter. Create adds
// it inline too; this delivery is the retry when that write failed.
func (h *Handlers) VideoAnnounced(msg *message.Message) error {
	ev, err := decode[domain.VideoUploadedEvent](msg, domain.TopicVideoUploaded)
	if err != nil {
		return err
	}
	if ev.VideoID <= 0 {
		return domain.Permanent(fmt.Errorf("%s %s: missing video id", domain.TopicVideoUploaded, msg.UUID))
	}
	_, err = h.members.ProcessRemote(msg.Context(), msg.UUID, domain.TopicVideoUploaded, func(ctx context.Context) error {
		return h.gate.Add(ctx, domain.MembershipVideoIDs, strconv.FormatInt(ev.VideoID, 10))
	})
	return err
}
