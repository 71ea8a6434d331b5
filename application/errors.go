package application

import "errors"

var (
	ErrConfig            = errors.New("invalid configuration")
	ErrConnect           = errors.New("unable to connect")
	ErrConnectionLost    = errors.New("connection lost")
	ErrRecoveryExhausted = errors.New("unable to reconnect")
	ErrRecoveryAborted   = errors.New("recovery aborted by shutdown")
	ErrPublish           = errors.New("publish failed")
	ErrSubscribe         = errors.New("subscribe failed")
	ErrUnsubscribe       = errors.New("unsubscribe failed")
	ErrShutdown          = errors.New("shutdown failed")

	ErrNotConnected      = errors.New("not connected")
	ErrInvalidQoS        = errors.New("invalid qos (must be 0, 1 or 2)")
	ErrInvalidTopic      = errors.New("topic cannot be empty")
	ErrMismatchedLengths = errors.New("topics and qos lists differ in length")
	ErrSessionStarted    = errors.New("session already started")
)
