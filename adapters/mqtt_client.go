package adapters

import (
	"fmt"
	"mqtt-session/application"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	MQTTDefaultConnectTimeout    = 30 * time.Second
	MQTTDefaultPublishTimeout    = 5 * time.Second
	MQTTDefaultSubscribeTimeout  = 5 * time.Second
	MQTTDefaultDisconnectQuiesce = 250 * time.Millisecond
)

// subscribeFailure is the SUBACK return code for a rejected filter.
const subscribeFailure = 0x80

var (
	ErrMQTTNotConnected       = fmt.Errorf("not connected")
	ErrMQTTNotStarted         = fmt.Errorf("connect was never called")
	ErrMQTTConnectTimeout     = fmt.Errorf("connect timeout")
	ErrMQTTPublishTimeout     = fmt.Errorf("publish timeout")
	ErrMQTTSubscribeTimeout   = fmt.Errorf("subscribe timeout")
	ErrMQTTUnsubscribeTimeout = fmt.Errorf("unsubscribe timeout")
	ErrMQTTSubscribeRejected  = fmt.Errorf("subscription rejected by broker")
)

type MQTTClientParams struct {
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	SubscribeTimeout  time.Duration
	DisconnectQuiesce time.Duration

	// DeliveryBuffer is the capacity of the delivery stream. Events beyond it
	// wait in the client's queue; paho's callbacks never block on it.
	DeliveryBuffer int

	NewClientFunc func(options *mqtt.ClientOptions) mqtt.Client

	Log zerolog.Logger
}

func (m *MQTTClientParams) EnsureDefaults() {
	if m.ConnectTimeout == 0 {
		m.ConnectTimeout = MQTTDefaultConnectTimeout
	}

	if m.PublishTimeout == 0 {
		m.PublishTimeout = MQTTDefaultPublishTimeout
	}

	if m.SubscribeTimeout == 0 {
		m.SubscribeTimeout = MQTTDefaultSubscribeTimeout
	}

	if m.DisconnectQuiesce == 0 {
		m.DisconnectQuiesce = MQTTDefaultDisconnectQuiesce
	}

	if m.NewClientFunc == nil {
		m.NewClientFunc = mqtt.NewClient
	}
}

// MQTTClient is the paho backed application.Transport. Inbound messages and
// connection losses are queued in arrival order and forwarded by a single
// goroutine into the delivery stream; paho's automatic reconnect is disabled
// so recovery stays with the session.
type MQTTClient struct {
	params MQTTClientParams

	client mqtt.Client
	mu     sync.RWMutex

	connected uint64

	// paho reads PUBLISH, SUBACK and UNSUBACK on one goroutine, so its
	// handlers only append here and return.
	queueMu sync.Mutex
	queue   []application.DeliveryEvent
	queued  chan struct{}

	deliveries chan application.DeliveryEvent
	done       chan struct{}
	closeOnce  sync.Once

	log zerolog.Logger
}

func NewMQTTClient(params MQTTClientParams) *MQTTClient {
	params.EnsureDefaults()

	m := &MQTTClient{
		params:     params,
		queued:     make(chan struct{}, 1),
		deliveries: make(chan application.DeliveryEvent, params.DeliveryBuffer),
		done:       make(chan struct{}),
		log:        params.Log,
	}
	go m.forward()

	return m
}

func (m *MQTTClient) Connect(opts application.ConnectionOptions) error {
	if m.IsConnected() {
		return nil
	}

	clientOpts, err := m.clientOptions(opts)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.client = m.params.NewClientFunc(clientOpts)
	m.mu.Unlock()

	return m.connect()
}

// Reconnect opens the connection again with the options of the last Connect.
func (m *MQTTClient) Reconnect() error {
	if m.IsConnected() {
		return nil
	}
	return m.connect()
}

func (m *MQTTClient) IsConnected() bool {
	if atomic.LoadUint64(&m.connected) == 0 {
		return false
	}
	return true
}

// Disconnect closes the connection and the delivery stream side of paho's
// handlers; the client is not meant to be connected again afterwards.
func (m *MQTTClient) Disconnect() error {
	client := m.getClient()
	if client == nil {
		return ErrMQTTNotStarted
	}

	m.closeOnce.Do(func() {
		close(m.done)
	})

	if !m.IsConnected() {
		return ErrMQTTNotConnected
	}

	client.Disconnect(uint(m.params.DisconnectQuiesce.Milliseconds()))
	atomic.StoreUint64(&m.connected, 0)
	return nil
}

func (m *MQTTClient) Publish(msg application.Message) error {
	client, err := m.connectedClient()
	if err != nil {
		return err
	}

	token := client.Publish(msg.Topic, byte(msg.QoS), msg.Retained, msg.Payload)
	return waitToken(token, m.params.PublishTimeout, ErrMQTTPublishTimeout)
}

func (m *MQTTClient) Subscribe(topic string, qos application.QoS) error {
	client, err := m.connectedClient()
	if err != nil {
		return err
	}

	// nil handler routes deliveries to the default publish handler
	token := client.Subscribe(topic, byte(qos), nil)
	if err := waitToken(token, m.params.SubscribeTimeout, ErrMQTTSubscribeTimeout); err != nil {
		return err
	}
	return checkSubscribeResult(token)
}

func (m *MQTTClient) SubscribeMany(topics []string, qos []application.QoS) error {
	if len(topics) != len(qos) {
		return fmt.Errorf("%w: %d topics, %d qos", application.ErrMismatchedLengths, len(topics), len(qos))
	}

	client, err := m.connectedClient()
	if err != nil {
		return err
	}

	// SubscribeMultiple takes a map, which loses the registry order on the
	// wire; one SUBSCRIBE per filter keeps it.
	for i, topic := range topics {
		token := client.Subscribe(topic, byte(qos[i]), nil)
		if err := waitToken(token, m.params.SubscribeTimeout, ErrMQTTSubscribeTimeout); err != nil {
			return fmt.Errorf("%s: %w", topic, err)
		}
		if err := checkSubscribeResult(token); err != nil {
			return err
		}
	}
	return nil
}

func (m *MQTTClient) Unsubscribe(topic string) error {
	return m.UnsubscribeMany([]string{topic})
}

func (m *MQTTClient) UnsubscribeMany(topics []string) error {
	client, err := m.connectedClient()
	if err != nil {
		return err
	}

	token := client.Unsubscribe(topics...)
	return waitToken(token, m.params.SubscribeTimeout, ErrMQTTUnsubscribeTimeout)
}

func (m *MQTTClient) Deliveries() <-chan application.DeliveryEvent {
	return m.deliveries
}

// HandleMessage is paho's default publish handler. It queues the message and
// returns at once; the consumer sees it through Deliveries in arrival order.
func (m *MQTTClient) HandleMessage(client mqtt.Client, msg mqtt.Message) {
	m.emit(application.MessageEvent(application.Message{
		Topic:    msg.Topic(),
		Payload:  msg.Payload(),
		QoS:      application.QoS(msg.Qos()),
		Retained: msg.Retained(),
	}))
}

func (m *MQTTClient) OnConnect(client mqtt.Client) {
	m.log.Info().Msgf("connected")
	atomic.StoreUint64(&m.connected, 1)
}

func (m *MQTTClient) OnConnectionLost(client mqtt.Client, err error) {
	m.log.Info().Msgf("connect lost: %v", err)
	atomic.StoreUint64(&m.connected, 0)
	m.emit(application.ConnectionLostEvent(err))
}

func (m *MQTTClient) emit(ev application.DeliveryEvent) {
	select {
	case <-m.done:
		return
	default:
	}

	m.queueMu.Lock()
	m.queue = append(m.queue, ev)
	m.queueMu.Unlock()

	select {
	case m.queued <- struct{}{}:
	default:
	}
}

// forward moves queued events into the delivery stream until Disconnect.
func (m *MQTTClient) forward() {
	for {
		select {
		case <-m.done:
			return
		case <-m.queued:
		}

		for {
			ev, ok := m.dequeue()
			if !ok {
				break
			}

			select {
			case m.deliveries <- ev:
			case <-m.done:
				return
			}
		}
	}
}

func (m *MQTTClient) dequeue() (application.DeliveryEvent, bool) {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()

	if len(m.queue) == 0 {
		return application.DeliveryEvent{}, false
	}
	ev := m.queue[0]
	m.queue[0] = application.DeliveryEvent{}
	m.queue = m.queue[1:]
	return ev, true
}

func (m *MQTTClient) connect() error {
	client := m.getClient()
	if client == nil {
		return ErrMQTTNotStarted
	}

	if err := waitToken(client.Connect(), m.params.ConnectTimeout, ErrMQTTConnectTimeout); err != nil {
		return err
	}

	atomic.StoreUint64(&m.connected, 1)
	return nil
}

func (m *MQTTClient) getClient() mqtt.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

func (m *MQTTClient) connectedClient() (mqtt.Client, error) {
	client := m.getClient()
	if client == nil {
		return nil, ErrMQTTNotStarted
	}
	if !m.IsConnected() {
		return nil, ErrMQTTNotConnected
	}
	return client, nil
}

func (m *MQTTClient) clientOptions(opts application.ConnectionOptions) (*mqtt.ClientOptions, error) {
	o := mqtt.NewClientOptions()

	o.AddBroker(opts.BrokerURL)
	o.SetClientID(opts.ClientID)
	if opts.Username != "" {
		o.SetUsername(opts.Username)
		o.SetPassword(opts.Password)
	}

	o.SetKeepAlive(opts.KeepAlive)
	o.SetCleanSession(opts.CleanSession)
	if opts.ConnectTimeout > 0 {
		o.SetConnectTimeout(opts.ConnectTimeout)
	}

	o.SetAutoReconnect(false)
	o.SetConnectRetry(false)
	o.SetOrderMatters(true)

	if opts.Will != nil {
		o.SetBinaryWill(opts.Will.Topic, opts.Will.Payload, byte(opts.Will.QoS), opts.Will.Retained)
	}

	if opts.TLS.Enabled() {
		tlsConfig, err := LoadTLSConfig(opts.TLS)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", application.ErrConfig, err)
		}
		o.SetTLSConfig(tlsConfig)
	}

	o.SetDefaultPublishHandler(m.HandleMessage)
	o.OnConnect = m.OnConnect
	o.OnConnectionLost = m.OnConnectionLost

	return o, nil
}

func waitToken(token mqtt.Token, timeout time.Duration, timeoutErr error) error {
	tc := time.NewTimer(timeout)
	defer tc.Stop()

	select {
	case <-tc.C:
		return timeoutErr
	case <-token.Done():
		return token.Error()
	}
}

func checkSubscribeResult(token mqtt.Token) error {
	st, ok := token.(*mqtt.SubscribeToken)
	if !ok {
		return nil
	}
	for topic, code := range st.Result() {
		if code == subscribeFailure {
			return fmt.Errorf("%w: %s", ErrMQTTSubscribeRejected, topic)
		}
	}
	return nil
}

var _ application.Transport = &MQTTClient{}
