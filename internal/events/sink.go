package events

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/klauspost/compress/zstd"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
)

// Sink is the abstract event sink the matching core publishes to.
// Notification fan-out lives outside the core; the core only ever
// depends on this interface, never on a concrete transport.
type Sink interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

const topic = "ecoflux.matching.events"

// compressionThreshold is the payload size above which a published
// message body is zstd-compressed before being handed to the publisher.
const compressionThreshold = 2048

// WatermillSink adapts a watermill Publisher to Sink, publish-only: the
// matching core emits events, it does not consume its own stream back.
type WatermillSink struct {
	publisher message.Publisher
	logger    *zap.Logger
	encoder   *zstd.Encoder
}

// NewInProcessSink builds a Sink backed by watermill's in-process
// gochannel transport — the default for a single-process deployment and
// for tests.
func NewInProcessSink(logger *zap.Logger) (*WatermillSink, Closer, error) {
	wmLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 1000,
		Persistent:          true,
	}, wmLogger)

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, nil, err
	}

	return &WatermillSink{publisher: pubSub, logger: logger, encoder: enc}, pubSub, nil
}

// Closer matches the subset of gochannel.GoChannel (and any other
// publisher/subscriber pair) this package needs to shut down cleanly.
type Closer interface {
	Close() error
}

// Publish marshals evt to JSON, compressing the body when it exceeds
// compressionThreshold, and publishes it on the matching events topic.
func (s *WatermillSink) Publish(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	msg := message.NewMessage(ksuid.New().String(), body)
	if len(body) > compressionThreshold {
		msg.Payload = s.encoder.EncodeAll(body, nil)
		msg.Metadata.Set("content-encoding", "zstd")
	}
	msg.SetContext(ctx)

	if err := s.publisher.Publish(topic, msg); err != nil {
		s.logger.Error("failed to publish event", zap.String("event_type", string(evt.Type)), zap.Error(err))
		return err
	}
	return nil
}

// Close releases the zstd encoder. The underlying publisher is closed by
// the Closer returned alongside the sink, since the in-process transport
// pairs a publisher with a subscriber that outlives any one sink.
func (s *WatermillSink) Close() error {
	s.encoder.Close()
	return nil
}
