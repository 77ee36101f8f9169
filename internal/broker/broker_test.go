package broker

import (
	"context"
	"testing"
	"time"

	"github.com/Guyuepp/videohub/internal/logging"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New(Config{Driver: "kafka"}, nil)
	assert.Error(t, err)
}

func TestMemoryBrokerDeliversToEveryGroup(t *testing.T) {
	b, err := New(Config{Driver: DriverMemory}, logging.NewWatermillLogger(logrus.NewEntry(logrus.StandardLogger())))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var chans []<-chan *message.Message
	for _, group := range []string{"video-pipeline", "video-status-log"} {
		sub, err := b.Subscriber(group)
		require.NoError(t, err)
		ch, err := sub.Subscribe(ctx, "video.uploaded")
		require.NoError(t, err)
		chans = append(chans, ch)
	}

	require.NoError(t, b.Publisher().Publish("video.uploaded", message.NewMessage("evt-1", []byte(`{}`))))

	for _, ch := range chans {
		select {
		case msg := <-ch:
			assert.Equal(t, "evt-1", msg.UUID)
			msg.Ack()
		case <-ctx.Done():
			t.Fatal("group missed the message")
		}
	}
}
