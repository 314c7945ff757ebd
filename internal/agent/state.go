package agent

import (
	"sync"

	"github.com/relayci/relay-agent/internal/protocol"
)

// State is the small set of agent fields mutated while a session runs and
// read by every runtime-info snapshot: the server-issued session cookie,
// the registration token and what the agent is currently doing. One State
// lives on the supervisor and outlives individual sessions.
type State struct {
	mu            sync.Mutex
	cookie        string
	token         string
	runtimeStatus string
	buildLocator  string
}

func NewState() *State {
	return &State{runtimeStatus: protocol.RuntimeStatusIdle}
}

func (s *State) SetCookie(cookie string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookie = cookie
}

func (s *State) Cookie() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cookie
}

func (s *State) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

func (s *State) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *State) SetRuntimeStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runtimeStatus = status
}

func (s *State) RuntimeStatus() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runtimeStatus
}

func (s *State) SetBuildLocator(locator string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buildLocator = locator
}

func (s *State) BuildLocator() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buildLocator
}
