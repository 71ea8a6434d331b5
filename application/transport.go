package application

import "fmt"

// QoS is the MQTT delivery guarantee level.
type QoS byte

const (
	AtMostOnce  QoS = 0
	AtLeastOnce QoS = 1
	ExactlyOnce QoS = 2
)

func (q QoS) Valid() bool {
	return q <= ExactlyOnce
}

// ParseQoS converts a configured integer into a QoS level.
func ParseQoS(v int) (QoS, error) {
	if v < 0 || v > int(ExactlyOnce) {
		return 0, fmt.Errorf("%w: %d", ErrInvalidQoS, v)
	}
	return QoS(v), nil
}

type Message struct {
	Topic    string
	Payload  []byte
	QoS      QoS
	Retained bool
}

func (m Message) String() string {
	return fmt.Sprintf("%s (qos %d): %s", m.Topic, m.QoS, m.Payload)
}

type DeliveryEventKind int

const (
	DeliveryMessage DeliveryEventKind = iota
	DeliveryConnectionLost
)

// DeliveryEvent is a single item of the transport delivery stream: either an
// inbound message or a connection-loss notification.
type DeliveryEvent struct {
	Kind    DeliveryEventKind
	Message Message
	Err     error
}

func MessageEvent(msg Message) DeliveryEvent {
	return DeliveryEvent{Kind: DeliveryMessage, Message: msg}
}

func ConnectionLostEvent(err error) DeliveryEvent {
	return DeliveryEvent{Kind: DeliveryConnectionLost, Err: err}
}

func (e DeliveryEvent) IsConnectionLost() bool {
	return e.Kind == DeliveryConnectionLost
}

// Transport is the protocol engine the session is built on. Implementations
// must be safe for concurrent use; the delivery stream has exactly one reader.
type Transport interface {
	Connect(opts ConnectionOptions) error
	Reconnect() error
	IsConnected() bool
	Disconnect() error

	Publish(msg Message) error

	Subscribe(topic string, qos QoS) error
	SubscribeMany(topics []string, qos []QoS) error
	Unsubscribe(topic string) error
	UnsubscribeMany(topics []string) error

	// Deliveries returns the delivery stream. A closed stream means the
	// transport will not produce any more events.
	Deliveries() <-chan DeliveryEvent
}
