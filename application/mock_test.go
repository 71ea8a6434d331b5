package application

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// fakeTransport is a scripted Transport. Its delivery stream replays script
// once Deliveries is first called and is closed afterwards; a loss event
// marks the transport disconnected right before it is handed out.
type fakeTransport struct {
	mu sync.Mutex

	connected bool
	calls     []string

	connectErr       error
	reconnectErrs    []error
	reconnectErr     error
	subscribeManyErr []error
	subscribeErr     error
	unsubscribeErrs  map[string]error
	disconnectErr    error
	publishErrs      map[int]error

	reconnects      int
	disconnects     int
	subscribeMany   [][]Subscription
	published       []Message
	onReconnect     func(attempt int)
	disconnectOnPub bool

	script       []DeliveryEvent
	keepOpen     bool
	spuriousLoss bool
	events       chan DeliveryEvent
	startOnce    sync.Once
}

func newFakeTransport(script ...DeliveryEvent) *fakeTransport {
	return &fakeTransport{
		script:          script,
		events:          make(chan DeliveryEvent),
		unsubscribeErrs: map[string]error{},
		publishErrs:     map[int]error{},
	}
}

func (f *fakeTransport) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeTransport) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeTransport) Connect(opts ConnectionOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("connect")
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) Reconnect() error {
	f.mu.Lock()
	f.reconnects++
	attempt := f.reconnects
	f.record("reconnect")
	hook := f.onReconnect
	f.mu.Unlock()

	if hook != nil {
		hook(attempt)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	err := f.reconnectErr
	if len(f.reconnectErrs) > 0 {
		err = f.reconnectErrs[0]
		f.reconnectErrs = f.reconnectErrs[1:]
	}
	if err != nil {
		return err
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) setConnected(connected bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = connected
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("disconnect")
	f.disconnects++
	f.connected = false
	return f.disconnectErr
}

func (f *fakeTransport) Publish(msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("publish:" + msg.Topic)
	if err := f.publishErrs[len(f.published)+1]; err != nil {
		if f.disconnectOnPub {
			f.connected = false
		}
		return err
	}
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeTransport) Subscribe(topic string, qos QoS) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record(fmt.Sprintf("subscribe:%s:%d", topic, qos))
	return f.subscribeErr
}

func (f *fakeTransport) SubscribeMany(topics []string, qos []QoS) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(topics) != len(qos) {
		return ErrMismatchedLengths
	}

	f.record("subscribe_many:" + strings.Join(topics, ","))
	batch := make([]Subscription, len(topics))
	for i := range topics {
		batch[i] = Subscription{Topic: topics[i], QoS: qos[i]}
	}
	f.subscribeMany = append(f.subscribeMany, batch)

	if len(f.subscribeManyErr) > 0 {
		err := f.subscribeManyErr[0]
		f.subscribeManyErr = f.subscribeManyErr[1:]
		return err
	}
	return nil
}

func (f *fakeTransport) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("unsubscribe:" + topic)
	return f.unsubscribeErrs[topic]
}

func (f *fakeTransport) UnsubscribeMany(topics []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("unsubscribe_many:" + strings.Join(topics, ","))
	return nil
}

func (f *fakeTransport) Deliveries() <-chan DeliveryEvent {
	f.startOnce.Do(func() {
		go f.feed()
	})
	return f.events
}

func (f *fakeTransport) feed() {
	for _, ev := range f.script {
		if ev.IsConnectionLost() && !f.spuriousLoss {
			f.setConnected(false)
		}
		f.events <- ev
	}
	if !f.keepOpen {
		close(f.events)
	}
}

// instantAfter fires immediately and records every requested delay.
type instantAfter struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (a *instantAfter) After(d time.Duration) <-chan time.Time {
	a.mu.Lock()
	a.delays = append(a.delays, d)
	a.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func (a *instantAfter) Delays() []time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]time.Duration(nil), a.delays...)
}

func msg(topic, payload string) Message {
	return Message{Topic: topic, Payload: []byte(payload), QoS: AtLeastOnce}
}

// collector is a MessageHandler that records deliveries.
type collector struct {
	mu   sync.Mutex
	msgs []Message
}

func (c *collector) Handle(_ context.Context, m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
	return nil
}

func (c *collector) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.msgs...)
}
