package broker

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// memoryBroker runs everything in process on a watermill GoChannel. Nothing
// survives a restart; meant for single-node development and tests.
type memoryBroker struct {
	ps *gochannel.GoChannel
}

func NewMemory(logger watermill.LoggerAdapter) Broker {
	return &memoryBroker{
		ps: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
			Persistent:          true,
		}, logger),
	}
}

func (b *memoryBroker) Publisher() message.Publisher {
	return b.ps
}

// Subscriber ignores the group: GoChannel fans out to every subscription,
// which is the per-group delivery the consumers expect.
func (b *memoryBroker) Subscriber(string) (message.Subscriber, error) {
	return b.ps, nil
}

func (b *memoryBroker) Close() error {
	return b.ps.Close()
}
