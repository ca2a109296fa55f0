package events

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsio "github.com/nats-io/nats.go"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
)

// NATSSink publishes matching events over NATS via watermill-nats, for a
// deployed notification collaborator to subscribe to independently of
// this process. Notification fan-out itself stays outside the matching
// core; this only gives the sink a real transport.
type NATSSink struct {
	publisher message.Publisher
	logger    *zap.Logger
}

// NewNATSSink connects a watermill-nats publisher to the given NATS URL,
// falling back to the default local server address when url is empty.
func NewNATSSink(url string, logger *zap.Logger) (*NATSSink, error) {
	if url == "" {
		url = natsio.DefaultURL
	}
	pub, err := wmnats.NewPublisher(
		wmnats.PublisherConfig{
			URL:       url,
			Marshaler: wmnats.GobMarshaler{},
		},
		watermill.NewStdLogger(false, false),
	)
	if err != nil {
		return nil, err
	}
	return &NATSSink{publisher: pub, logger: logger}, nil
}

// Publish marshals evt to JSON and publishes it on the matching events
// subject.
func (s *NATSSink) Publish(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	msg := message.NewMessage(ksuid.New().String(), body)
	msg.SetContext(ctx)
	if err := s.publisher.Publish(topic, msg); err != nil {
		s.logger.Error("failed to publish event to NATS", zap.String("event_type", string(evt.Type)), zap.Error(err))
		return err
	}
	return nil
}

// Close shuts down the underlying NATS publisher.
func (s *NATSSink) Close() error {
	return s.publisher.Close()
}
