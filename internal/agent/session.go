package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/relayci/relay-agent/internal/build"
	"github.com/relayci/relay-agent/internal/console"
	"github.com/relayci/relay-agent/internal/protocol"
	"go.uber.org/zap"
)

// DefaultPingInterval is how often a session sends a runtime-info ping.
const DefaultPingInterval = 10 * time.Second

// Session owns one connection's message exchange: the initial join ping,
// periodic heartbeats and dispatch of every inbound message. At most one
// build is active at a time; its id and cancellation token live in the
// mutex-guarded active slot, written by the dispatcher and cleared by the
// build goroutine when it finishes.
type Session struct {
	cfg       *Config
	identity  *Identity
	state     *State
	client    *http.Client
	transport Transport
	log       *zap.Logger

	pingInterval  time.Duration
	pollInterval  time.Duration
	flushInterval time.Duration

	active activeBuild
}

func NewSession(cfg *Config, identity *Identity, state *State, client *http.Client, transport Transport, logger *zap.Logger) *Session {
	return &Session{
		cfg:           cfg,
		identity:      identity,
		state:         state,
		client:        client,
		transport:     transport,
		log:           logger.With(zap.String("mod", "session")),
		pingInterval:  DefaultPingInterval,
		pollInterval:  build.DefaultCancelPollInterval,
		flushInterval: console.DefaultFlushInterval,
	}
}

// Run exchanges messages until the transport closes (returned as an error
// so the supervisor reconnects) or ctx is cancelled (clean exit). A build
// still running when the session ends is cancelled.
func (s *Session) Run(ctx context.Context) error {
	defer s.active.cancelCurrent()
	if err := s.transport.Send(protocol.PingMessage(s.runtimeInfo())); err != nil {
		return fmt.Errorf("send join ping: %w", err)
	}
	pingTick := time.NewTicker(s.pingInterval)
	defer pingTick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pingTick.C:
			if err := s.transport.Send(protocol.PingMessage(s.runtimeInfo())); err != nil {
				return fmt.Errorf("send ping: %w", err)
			}
		case msg, ok := <-s.transport.Received():
			if !ok {
				return errors.New("transport channel is closed")
			}
			if err := s.handle(msg); err != nil {
				return err
			}
		}
	}
}

// handle dispatches one inbound message. Only reregister fails the
// session; malformed or unknown messages are logged and skipped.
func (s *Session) handle(msg *protocol.Message) error {
	s.log.Debug("received", zap.String("action", msg.Action))
	switch msg.Action {
	case protocol.SetCookieAction:
		cookie, err := msg.DataString()
		if err != nil {
			s.log.Warn("malformed setCookie payload", zap.Error(err))
			return nil
		}
		s.state.SetCookie(cookie)
	case protocol.ReregisterAction:
		s.state.SetToken("")
		return errors.New("server requested re-registration")
	case protocol.CancelBuildAction:
		buildId, err := msg.DataString()
		if err != nil {
			s.log.Warn("malformed cancelBuild payload", zap.Error(err))
			return nil
		}
		s.cancelBuild(buildId)
	case protocol.BuildAction:
		assignment, err := msg.DataBuild()
		if err != nil {
			s.log.Warn("malformed build payload", zap.Error(err))
			return nil
		}
		s.startBuild(assignment)
	case protocol.AckAction, protocol.AgentPresenceAction:
		// presence bookkeeping is server-side only
	default:
		s.log.Warn("unknown message action", zap.String("action", msg.Action))
	}
	return nil
}

func (s *Session) cancelBuild(buildId string) {
	if s.active.cancel(buildId) {
		s.log.Info("build cancellation requested", zap.String("buildId", buildId))
	} else {
		s.log.Info("ignoring cancel for inactive build", zap.String("buildId", buildId))
	}
}

// startBuild records the assignment in the active slot and runs it on a
// background goroutine. Only one build may run at a time, so an assignment
// arriving while another build is active is a protocol violation and gets
// dropped.
func (s *Session) startBuild(assignment *protocol.BuildAssignment) {
	token := build.NewToken()
	if !s.active.begin(assignment.BuildId, token) {
		s.log.Warn("build assignment ignored, another build is active",
			zap.String("buildId", assignment.BuildId))
		return
	}

	var sink *console.Streamer
	if assignment.ConsoleUrl != "" {
		base, err := s.cfg.ServerBaseUrl()
		if err == nil {
			sink, err = console.NewStreamer(s.client, assignment.ConsoleUrl, base, s.flushInterval, s.log)
		}
		if err != nil {
			s.log.Warn("console streaming disabled for this build", zap.Error(err))
			sink = nil
		}
	}

	// The nil interface matters here: a nil *Streamer stuffed straight into
	// the io.Writer parameter would dodge the executor's nil check.
	var output io.Writer
	if sink != nil {
		output = sink
	}
	executor := build.NewExecutor(s.cfg.WorkDir, output, token, s.log)
	executor.PollInterval = s.pollInterval
	reporter := build.NewStatusReporter(s.transport, s.runtimeInfo, s.log)
	buildSession := build.NewSession(assignment, sink, reporter, executor, s.log)

	s.state.SetBuildLocator(assignment.BuildLocator)
	s.state.SetRuntimeStatus(protocol.RuntimeStatusBuilding)
	go func() {
		defer func() {
			s.active.clear(assignment.BuildId)
			s.state.SetRuntimeStatus(protocol.RuntimeStatusIdle)
			s.state.SetBuildLocator("")
		}()
		buildSession.Run()
	}()
}

func (s *Session) runtimeInfo() *protocol.AgentRuntimeInfo {
	return SnapshotRuntimeInfo(s.cfg, s.identity, s.state)
}
