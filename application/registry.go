package application

import (
	"fmt"
	"sync"
)

type Subscription struct {
	Topic string
	QoS   QoS
}

// SubscriptionRegistry is the ordered set of subscriptions the session must
// keep active. It is keyed by topic filter; snapshots keep insertion order.
type SubscriptionRegistry struct {
	mu    sync.RWMutex
	subs  []Subscription
	index map[string]int
}

func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{index: make(map[string]int)}
}

// Add registers topic or overwrites the qos of an existing entry, keeping its
// original position.
func (r *SubscriptionRegistry) Add(topic string, qos QoS) error {
	if err := validateSubscription(topic, qos); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.put(topic, qos)
	return nil
}

// AddMany registers all pairs or none of them.
func (r *SubscriptionRegistry) AddMany(topics []string, qos []QoS) error {
	if len(topics) != len(qos) {
		return fmt.Errorf("%w: %w: %d topics, %d qos", ErrConfig, ErrMismatchedLengths, len(topics), len(qos))
	}
	for i := range topics {
		if err := validateSubscription(topics[i], qos[i]); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range topics {
		r.put(topics[i], qos[i])
	}
	return nil
}

// Remove drops topic and reports whether it was registered.
func (r *SubscriptionRegistry) Remove(topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[topic]
	if !ok {
		return false
	}

	r.subs = append(r.subs[:i], r.subs[i+1:]...)
	delete(r.index, topic)
	for j := i; j < len(r.subs); j++ {
		r.index[r.subs[j].Topic] = j
	}
	return true
}

func (r *SubscriptionRegistry) Snapshot() []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Subscription, len(r.subs))
	copy(out, r.subs)
	return out
}

func (r *SubscriptionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

func (r *SubscriptionRegistry) put(topic string, qos QoS) {
	if i, ok := r.index[topic]; ok {
		r.subs[i].QoS = qos
		return
	}
	r.index[topic] = len(r.subs)
	r.subs = append(r.subs, Subscription{Topic: topic, QoS: qos})
}

func validateSubscription(topic string, qos QoS) error {
	if topic == "" {
		return fmt.Errorf("%w: %w", ErrConfig, ErrInvalidTopic)
	}
	if !qos.Valid() {
		return fmt.Errorf("%w: %w: %d", ErrConfig, ErrInvalidQoS, qos)
	}
	return nil
}

// Split returns the registry entries as parallel topic and qos lists, the
// shape subscribe-many calls take.
func Split(subs []Subscription) ([]string, []QoS) {
	topics := make([]string, len(subs))
	qos := make([]QoS, len(subs))
	for i, s := range subs {
		topics[i] = s.Topic
		qos[i] = s.QoS
	}
	return topics, qos
}
