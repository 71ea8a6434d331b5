package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/sync/errgroup"
)

const DefaultReportInterval = 30 * time.Second

// MessageHandler receives every inbound message, in delivery order. The next
// message is not read from the transport until the handler returns.
type MessageHandler func(ctx context.Context, msg Message) error

type SessionParams struct {
	Transport Transport
	Options   ConnectionOptions
	Registry  *SubscriptionRegistry
	Policy    RetryPolicy
	Handler   MessageHandler

	ReportInterval time.Duration

	Log zerolog.Logger
}

func (p *SessionParams) EnsureDefaults() {
	if p.Registry == nil {
		p.Registry = NewSubscriptionRegistry()
	}
	if p.Policy == nil {
		p.Policy = NewFixedRetryPolicy(DefaultMaxAttempts, DefaultRetryDelay)
	}
	if p.ReportInterval == 0 {
		p.ReportInterval = DefaultReportInterval
	}
	p.Options.EnsureDefaults()
}

type SessionStatus struct {
	State         SessionState
	Subscriptions int
	Delivered     uint64
	Published     uint64
	Reconnects    uint64
	LastDelivery  time.Time
}

// Session owns the connection lifecycle: connect, initial subscribe, the
// consume loop, recovery after connection loss and graceful shutdown.
type Session struct {
	params SessionParams

	transport Transport
	registry  *SubscriptionRegistry
	state     stateManager

	// mu serializes subscription traffic and registry writes against the
	// resubscription performed during recovery.
	mu sync.Mutex

	// lost carries connection failures noticed outside the consume loop.
	lost chan error

	delivered    uint64
	published    uint64
	reconnects   uint64
	lastDelivery atomic.Pointer[time.Time]

	log zerolog.Logger
}

func NewSession(params SessionParams) (*Session, error) {
	if params.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}

	params.EnsureDefaults()
	if err := params.Options.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		params:    params,
		transport: params.Transport,
		registry:  params.Registry,
		lost:      make(chan error, 1),
		log:       params.Log,
	}

	t := time.Unix(0, 0)
	s.lastDelivery.Store(&t)

	return s, nil
}

func (s *Session) State() SessionState {
	return s.state.get()
}

func (s *Session) Registry() *SubscriptionRegistry {
	return s.registry
}

func (s *Session) Status() SessionStatus {
	return SessionStatus{
		State:         s.state.get(),
		Subscriptions: s.registry.Len(),
		Delivered:     atomic.LoadUint64(&s.delivered),
		Published:     atomic.LoadUint64(&s.published),
		Reconnects:    atomic.LoadUint64(&s.reconnects),
		LastDelivery:  *s.lastDelivery.Load(),
	}
}

// Start connects and issues the initial subscription batch. Both failures
// are final: the session moves to StateTerminated.
func (s *Session) Start() error {
	if !s.state.transition(StateDisconnected, StateConnecting) {
		return ErrSessionStarted
	}

	opts := s.params.Options
	s.log.Info().
		Str("broker", opts.BrokerURL).
		Str("client_id", opts.ClientID).
		Bool("clean_session", opts.CleanSession).
		Dur("keep_alive", opts.KeepAlive).
		Msg("connecting")

	if err := s.transport.Connect(opts); err != nil {
		s.state.set(StateTerminated)
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.subscribeAll(); err != nil {
		s.state.set(StateTerminated)
		if derr := s.transport.Disconnect(); derr != nil {
			s.log.Warn().Err(derr).Msg("disconnect after failed subscribe")
		}
		return err
	}

	s.state.set(StateConnected)
	s.log.Info().Int("subscriptions", s.registry.Len()).Msg("connected")
	return nil
}

// Run starts the session, consumes until ctx is done, the delivery stream
// closes or recovery gives up, and then shuts down. Only a failed start or
// an exhausted recovery is returned as an error.
func (s *Session) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g := errgroup.Group{}

	g.Go(func() error {
		defer cancel()
		s.log.Info().Msg("processing messages")
		defer s.log.Info().Msg("stop processing messages")

		return s.Consume(loopCtx)
	})

	g.Go(func() error {
		s.report(loopCtx)
		return nil
	})

	err := g.Wait()

	if serr := s.Shutdown(); serr != nil {
		s.log.Warn().Err(serr).Msg("shutdown incomplete")
	}
	return err
}

// Consume reads the delivery stream until ctx is done, the stream closes or
// a Shutdown aborts recovery. It returns an error only when recovery after a
// connection loss failed.
func (s *Session) Consume(ctx context.Context) error {
	deliveries := s.transport.Deliveries()

	for {
		select {
		case <-ctx.Done():
			return nil
		case cause := <-s.lost:
			if err := s.recoverConnection(ctx, cause); err != nil {
				return ignoreAborted(err)
			}
		case ev, ok := <-deliveries:
			if !ok {
				s.log.Info().Msg("delivery stream closed")
				return nil
			}
			if ev.IsConnectionLost() {
				if err := s.recoverConnection(ctx, ev.Err); err != nil {
					return ignoreAborted(err)
				}
				continue
			}
			s.deliver(ctx, ev.Message)
		}
	}
}

// Publish sends one message. It is refused unless the session is connected.
func (s *Session) Publish(msg Message) error {
	if msg.Topic == "" {
		return fmt.Errorf("%w: %w", ErrPublish, ErrInvalidTopic)
	}
	if !msg.QoS.Valid() {
		return fmt.Errorf("%w: %w", ErrPublish, ErrInvalidQoS)
	}
	if s.state.get() != StateConnected {
		return fmt.Errorf("%w: %w", ErrPublish, ErrNotConnected)
	}

	if err := s.transport.Publish(msg); err != nil {
		s.checkLoss(err)
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}

	atomic.AddUint64(&s.published, 1)
	return nil
}

// Subscribe registers topic and subscribes right away when connected.
// While the session is not connected the subscription is only registered
// and is issued by the next (re)connect.
func (s *Session) Subscribe(topic string, qos QoS) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.registry.Add(topic, qos); err != nil {
		return err
	}
	if s.state.get() != StateConnected {
		return nil
	}

	if err := s.transport.Subscribe(topic, qos); err != nil {
		s.checkLoss(err)
		return fmt.Errorf("%w: %s: %w", ErrSubscribe, topic, err)
	}
	return nil
}

// SubscribeMany is Subscribe for parallel topic and qos lists. Mismatched
// lengths are rejected before anything is registered or sent.
func (s *Session) SubscribeMany(topics []string, qos []QoS) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.registry.AddMany(topics, qos); err != nil {
		return err
	}
	if s.state.get() != StateConnected || len(topics) == 0 {
		return nil
	}

	if err := s.transport.SubscribeMany(topics, qos); err != nil {
		s.checkLoss(err)
		return fmt.Errorf("%w: %w", ErrSubscribe, err)
	}
	return nil
}

func (s *Session) Unsubscribe(topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.registry.Remove(topic) {
		return nil
	}
	if s.state.get() != StateConnected {
		return nil
	}

	if err := s.transport.Unsubscribe(topic); err != nil {
		s.checkLoss(err)
		return fmt.Errorf("%w: %s: %w", ErrUnsubscribe, topic, err)
	}
	return nil
}

// Shutdown unsubscribes every registered topic and disconnects. Individual
// unsubscribe failures are logged; a disconnect failure is returned wrapped
// in ErrShutdown. Calling it on a session that is not running is a no-op.
func (s *Session) Shutdown() error {
	if !s.state.transitionFrom(StateShuttingDown, StateConnected, StateRecovering) {
		return nil
	}
	defer s.state.set(StateTerminated)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.transport.IsConnected() {
		s.log.Info().Msg("not connected, nothing to tear down")
		return nil
	}

	s.log.Info().Msg("disconnecting")
	for _, sub := range s.registry.Snapshot() {
		if err := s.transport.Unsubscribe(sub.Topic); err != nil {
			s.log.Warn().Err(err).Str("topic", sub.Topic).Msg("unsubscribe failed")
		}
	}

	if err := s.transport.Disconnect(); err != nil {
		return fmt.Errorf("%w: %w", ErrShutdown, err)
	}
	s.log.Info().Msg("disconnected")
	return nil
}

func (s *Session) recoverConnection(ctx context.Context, cause error) error {
	if s.transport.IsConnected() {
		s.log.Debug().Err(cause).Msg("loss signal ignored, transport still connected")
		return nil
	}
	if !s.state.transition(StateConnected, StateRecovering) {
		return nil
	}

	s.log.Warn().Err(cause).Msg("connection lost, waiting to retry connection")

	err := s.params.Policy.Retry(ctx, func(attempt int) error {
		if s.state.get() != StateRecovering {
			return ErrRecoveryAborted
		}

		s.log.Info().
			Int("attempt", attempt).
			Int("max_attempts", s.params.Policy.MaxAttempts()).
			Msg("reconnecting")

		if err := s.transport.Reconnect(); err != nil {
			s.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect failed")
			return err
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		// Shutdown may have run while the transport was down
		if s.state.get() != StateRecovering {
			s.abandon()
			return ErrRecoveryAborted
		}

		s.log.Info().Int("subscriptions", s.registry.Len()).Msg("resubscribing")
		if err := s.subscribeAll(); err != nil {
			s.log.Warn().Err(err).Int("attempt", attempt).Msg("resubscribe failed")
			return err
		}

		if !s.state.transition(StateRecovering, StateConnected) {
			s.abandon()
			return ErrRecoveryAborted
		}
		return nil
	})

	switch {
	case err == nil:
		atomic.AddUint64(&s.reconnects, 1)
		s.drainLost()
		s.log.Info().Msg("reconnected")
		return nil
	case errors.Is(err, ErrRecoveryAborted):
		s.log.Info().Msg("recovery aborted by shutdown")
		return err
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		s.log.Info().Msg("recovery interrupted by shutdown")
		return nil
	default:
		s.state.set(StateTerminated)
		s.log.Error().Err(err).Msg("giving up on connection")
		return err
	}
}

// ignoreAborted ends consumption quietly when Shutdown won the race against
// recovery.
func ignoreAborted(err error) error {
	if errors.Is(err, ErrRecoveryAborted) {
		return nil
	}
	return err
}

// abandon drops a connection reopened after Shutdown already ran.
func (s *Session) abandon() {
	if err := s.transport.Disconnect(); err != nil {
		s.log.Warn().Err(err).Msg("disconnect after aborted recovery")
	}
}

// subscribeAll issues the whole registry as one batch. Callers hold mu.
func (s *Session) subscribeAll() error {
	subs := s.registry.Snapshot()
	if len(subs) == 0 {
		return nil
	}

	topics, qos := Split(subs)
	if err := s.transport.SubscribeMany(topics, qos); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribe, err)
	}
	return nil
}

func (s *Session) deliver(ctx context.Context, msg Message) {
	atomic.AddUint64(&s.delivered, 1)
	t := time.Now()
	s.lastDelivery.Store(&t)

	if s.params.Handler == nil {
		return
	}

	var err error
	var pc panics.Catcher
	pc.Try(func() {
		err = s.params.Handler(ctx, msg)
	})

	if r := pc.Recovered(); r != nil {
		s.log.Error().Str("topic", msg.Topic).Interface("panic", r.Value).Msg("message handler panic recovered")
		return
	}
	if err != nil {
		s.log.Warn().Err(err).Str("topic", msg.Topic).Msg("message handler returned error")
	}
}

// checkLoss hands a failed operation to the consume loop when the transport
// no longer reports a connection.
func (s *Session) checkLoss(err error) {
	if s.transport.IsConnected() {
		return
	}
	select {
	case s.lost <- fmt.Errorf("%w: %w", ErrConnectionLost, err):
	default:
	}
}

func (s *Session) drainLost() {
	for {
		select {
		case <-s.lost:
		default:
			return
		}
	}
}

func (s *Session) report(ctx context.Context) {
	ticker := time.NewTicker(s.params.ReportInterval)
	defer ticker.Stop()

	last := s.Status()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := s.Status()
			s.log.Info().
				Str("state", status.State.String()).
				Int("subscriptions", status.Subscriptions).
				Uint64("delivered", status.Delivered-last.Delivered).
				Uint64("published", status.Published-last.Published).
				Uint64("reconnects", status.Reconnects).
				Time("last_delivery", status.LastDelivery).
				Msg("session report")
			last = status
		}
	}
}
