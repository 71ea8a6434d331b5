package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Publisher is the publish side of a Session.
type Publisher interface {
	Publish(msg Message) error
}

// MessagePlan builds the i-th (0-based) message of a sequence.
type MessagePlan func(i int) Message

// AlternatingTopics rotates through topics starting with the second one, so
// with two topics even messages go to topics[1] and odd ones to topics[0].
// Payloads are payloadPrefix followed by the message index.
func AlternatingTopics(topics []string, qos QoS, payloadPrefix string) (MessagePlan, error) {
	if len(topics) == 0 {
		return nil, fmt.Errorf("%w: at least one topic is required", ErrConfig)
	}
	for _, topic := range topics {
		if topic == "" {
			return nil, fmt.Errorf("%w: %w", ErrConfig, ErrInvalidTopic)
		}
	}
	if !qos.Valid() {
		return nil, fmt.Errorf("%w: %w", ErrConfig, ErrInvalidQoS)
	}

	return func(i int) Message {
		return Message{
			Topic:   topics[(i+1)%len(topics)],
			Payload: []byte(fmt.Sprintf("%s%d", payloadPrefix, i)),
			QoS:     qos,
		}
	}, nil
}

type PublishSequencerParams struct {
	Publisher Publisher

	Log zerolog.Logger
}

// PublishSequencer publishes a bounded sequence of messages, one in flight
// at a time, and stops at the first failure.
type PublishSequencer struct {
	publisher Publisher

	log zerolog.Logger
}

func NewPublishSequencer(params PublishSequencerParams) (*PublishSequencer, error) {
	if params.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	return &PublishSequencer{publisher: params.Publisher, log: params.Log}, nil
}

// Run publishes n messages built by plan and returns how many were
// confirmed. Messages after a failed one are never attempted.
func (p *PublishSequencer) Run(ctx context.Context, n int, plan MessagePlan) (int, error) {
	if plan == nil {
		return 0, fmt.Errorf("%w: message plan is required", ErrConfig)
	}

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return i, err
		}

		msg := plan(i)
		p.log.Info().Str("topic", msg.Topic).Int("seq", i).Msg("publishing message")

		if err := p.publisher.Publish(msg); err != nil {
			if !errors.Is(err, ErrPublish) {
				err = fmt.Errorf("%w: %w", ErrPublish, err)
			}
			p.log.Error().Err(err).Int("seq", i).Msg("error sending message")
			return i, fmt.Errorf("message %d of %d: %w", i+1, n, err)
		}
	}

	return n, nil
}
