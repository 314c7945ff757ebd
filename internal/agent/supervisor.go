package agent

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	baseRetryDelay = 2 * time.Second
	maxRetryDelay  = 60 * time.Second
)

// Supervisor keeps the agent connected to the server for the life of the
// process. It registers once up front (a failure there is fatal), then runs
// exactly one session at a time, reconnecting with capped exponential
// backoff after every session error. A reregister request clears the token
// so the next cycle redoes the handshake.
type Supervisor struct {
	cfg       *Config
	identity  *Identity
	state     *State
	registrar *Registrar
	client    *http.Client
	log       *zap.Logger

	// dial and wait are swapped out by tests.
	dial func() (Transport, error)
	wait func(ctx context.Context, d time.Duration) error
}

func NewSupervisor(cfg *Config, identity *Identity, state *State, client *http.Client, logger *zap.Logger) *Supervisor {
	s := &Supervisor{
		cfg:       cfg,
		identity:  identity,
		state:     state,
		registrar: NewRegistrar(cfg, identity, state, client, logger),
		client:    client,
		log:       logger.With(zap.String("mod", "supervisor")),
		wait:      waitOrCancel,
	}
	s.dial = s.dialServer
	return s
}

// Run drives the connect/reconnect loop until ctx is cancelled. The only
// error it returns is a failed startup registration.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.registrar.Registered() {
		if err := s.registrar.Register(ctx); err != nil {
			return fmt.Errorf("startup registration failed: %w", err)
		}
	}
	failures := 0
	for {
		connected, err := s.runSession(ctx)
		if ctx.Err() != nil {
			s.log.Info("agent shutting down")
			return nil
		}
		if connected {
			// The retry delay restarts from its base once a session was
			// actually established; only consecutive failed attempts
			// escalate it.
			failures = 0
		}
		delay := RetryBackoff(failures)
		failures++
		s.log.Warn("session ended, reconnecting",
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := s.wait(ctx, delay); err != nil {
			s.log.Info("agent shutting down")
			return nil
		}
	}
}

// runSession re-registers when needed, dials the server and runs one
// session to completion. connected reports whether a transport was
// established, which is what resets the backoff.
func (s *Supervisor) runSession(ctx context.Context) (connected bool, err error) {
	if !s.registrar.Registered() {
		if err := s.registrar.Register(ctx); err != nil {
			return false, err
		}
	}
	transport, err := s.dial()
	if err != nil {
		return false, err
	}
	defer transport.Close()
	s.log.Info("session established", zap.String("server", s.cfg.ServerUrl))
	session := NewSession(s.cfg, s.identity, s.state, s.client, transport, s.log)
	return true, session.Run(ctx)
}

func (s *Supervisor) dialServer() (Transport, error) {
	wsUrl, err := s.cfg.WebSocketUrl()
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if token := s.state.Token(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return DialWebSocket(wsUrl, header, s.log)
}

// RetryBackoff returns the reconnect delay after the given number of
// consecutive failures: base 2s doubling per failure, capped at 60s.
func RetryBackoff(failures int) time.Duration {
	delay := baseRetryDelay
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

func waitOrCancel(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
