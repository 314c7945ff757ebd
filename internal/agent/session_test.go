package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/relayci/relay-agent/internal/protocol"
	"go.uber.org/zap"
)

// fakeTransport records sent messages and feeds scripted inbound ones.
type fakeTransport struct {
	mu       sync.Mutex
	sent     []*protocol.Message
	received chan *protocol.Message
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{received: make(chan *protocol.Message, 16)}
}

func (tr *fakeTransport) Send(msg *protocol.Message) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.sent = append(tr.sent, msg)
	return nil
}

func (tr *fakeTransport) Received() <-chan *protocol.Message { return tr.received }
func (tr *fakeTransport) Close() error                       { return nil }

func (tr *fakeTransport) sentActions() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]string, len(tr.sent))
	for i, msg := range tr.sent {
		out[i] = msg.Action
	}
	return out
}

// waitForAction polls until a sent message with the given action shows up.
func (tr *fakeTransport) waitForAction(t *testing.T, action string) *protocol.Message {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		tr.mu.Lock()
		for _, msg := range tr.sent {
			if msg.Action == action {
				tr.mu.Unlock()
				return msg
			}
		}
		tr.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %q message sent, got %v", action, tr.sentActions())
	return nil
}

func newSessionUnderTest(t *testing.T) (*Session, *fakeTransport, *State) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.WorkDir = t.TempDir()
	state := NewState()
	state.SetToken("seeded-token")
	identity := &Identity{Uuid: "test-uuid", Hostname: "host", IpAddress: "127.0.0.1"}
	transport := newFakeTransport()
	s := NewSession(cfg, identity, state, http.DefaultClient, transport, zap.NewNop())
	s.pollInterval = 10 * time.Millisecond
	return s, transport, state
}

// startSession runs the session in the background. The returned stop func
// cancels the context and hands back Run's error; sessions that end on their
// own (reregister, closed transport) deliver their error the same way.
func startSession(t *testing.T, s *Session) (stop func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	return func() error {
		cancel()
		select {
		case err := <-errCh:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("session did not stop")
			return nil
		}
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSessionSendsJoinPing(t *testing.T) {
	s, transport, _ := newSessionUnderTest(t)
	stop := startSession(t, s)

	msg := transport.waitForAction(t, protocol.PingAction)
	if err := stop(); err != nil {
		t.Errorf("Run() = %v, want nil on cancellation", err)
	}

	var ping protocol.AgentRuntimeInfo
	if err := json.Unmarshal(msg.Data, &ping); err != nil {
		t.Fatal(err)
	}
	if ping.Identifier.Uuid != "test-uuid" {
		t.Errorf("ping uuid = %q, want %q", ping.Identifier.Uuid, "test-uuid")
	}
	if ping.RuntimeStatus != protocol.RuntimeStatusIdle {
		t.Errorf("ping status = %q, want Idle", ping.RuntimeStatus)
	}
}

func TestSessionStoresCookie(t *testing.T) {
	s, transport, state := newSessionUnderTest(t)
	stop := startSession(t, s)

	transport.received <- protocol.SetCookieMessage("cookie-1")
	waitUntil(t, func() bool { return state.Cookie() == "cookie-1" })
	if err := stop(); err != nil {
		t.Fatal(err)
	}
}

func TestSessionReregisterClearsTokenAndFails(t *testing.T) {
	s, transport, state := newSessionUnderTest(t)
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(context.Background()) }()

	transport.received <- protocol.ReregisterMessage()
	select {
	case err := <-errCh:
		if err == nil || !strings.Contains(err.Error(), "re-registration") {
			t.Errorf("Run() = %v, want a re-registration error", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end on reregister")
	}
	if state.Token() != "" {
		t.Error("token not cleared on reregister")
	}
}

func TestSessionFailsWhenTransportCloses(t *testing.T) {
	s, transport, _ := newSessionUnderTest(t)
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(context.Background()) }()

	close(transport.received)
	select {
	case err := <-errCh:
		if err == nil || !strings.Contains(err.Error(), "closed") {
			t.Errorf("Run() = %v, want a closed-transport error", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end on transport close")
	}
}

func TestSessionIgnoresUnknownAction(t *testing.T) {
	s, transport, state := newSessionUnderTest(t)
	stop := startSession(t, s)

	transport.received <- &protocol.Message{Action: "festival"}
	transport.received <- protocol.SetCookieMessage("after-unknown")
	waitUntil(t, func() bool { return state.Cookie() == "after-unknown" })
	if err := stop(); err != nil {
		t.Errorf("Run() = %v, want nil for unknown action", err)
	}
}

func TestSessionRunsAssignedBuild(t *testing.T) {
	s, transport, _ := newSessionUnderTest(t)
	stop := startSession(t, s)

	transport.received <- protocol.BuildMessage(&protocol.BuildAssignment{
		BuildId: "b1",
		Command: protocol.ExecCommand("true"),
	})
	completed := transport.waitForAction(t, protocol.ReportCompletedAction)
	report, err := completed.DataReport()
	if err != nil {
		t.Fatal(err)
	}
	if report.Result != string(protocol.ResultPassed) {
		t.Errorf("result = %q, want Passed", report.Result)
	}
	if err := stop(); err != nil {
		t.Fatal(err)
	}
}

func TestSessionCancelsActiveBuild(t *testing.T) {
	s, transport, _ := newSessionUnderTest(t)
	stop := startSession(t, s)

	transport.received <- protocol.BuildMessage(&protocol.BuildAssignment{
		BuildId: "b2",
		Command: protocol.ExecCommand("sh", "-c", "sleep 30"),
	})
	transport.waitForAction(t, protocol.ReportCurrentStatusAction)
	transport.received <- protocol.CancelBuildMessage("b2")

	completed := transport.waitForAction(t, protocol.ReportCompletedAction)
	report, err := completed.DataReport()
	if err != nil {
		t.Fatal(err)
	}
	if report.Result != string(protocol.ResultCancelled) {
		t.Errorf("result = %q, want Cancelled", report.Result)
	}
	if err := stop(); err != nil {
		t.Fatal(err)
	}
}

func TestSessionIgnoresCancelForOtherBuild(t *testing.T) {
	s, transport, _ := newSessionUnderTest(t)
	stop := startSession(t, s)

	transport.received <- protocol.BuildMessage(&protocol.BuildAssignment{
		BuildId: "b3",
		Command: protocol.ExecCommand("sh", "-c", "sleep 0.2"),
	})
	transport.waitForAction(t, protocol.ReportCurrentStatusAction)
	transport.received <- protocol.CancelBuildMessage("someone-else")

	completed := transport.waitForAction(t, protocol.ReportCompletedAction)
	report, err := completed.DataReport()
	if err != nil {
		t.Fatal(err)
	}
	if report.Result != string(protocol.ResultPassed) {
		t.Errorf("result = %q, want Passed after a mismatched cancel", report.Result)
	}
	if err := stop(); err != nil {
		t.Fatal(err)
	}
}

func TestSessionDropsSecondAssignment(t *testing.T) {
	s, transport, _ := newSessionUnderTest(t)
	stop := startSession(t, s)

	transport.received <- protocol.BuildMessage(&protocol.BuildAssignment{
		BuildId: "b4",
		Command: protocol.ExecCommand("sh", "-c", "sleep 30"),
	})
	transport.waitForAction(t, protocol.ReportCurrentStatusAction)
	transport.received <- protocol.BuildMessage(&protocol.BuildAssignment{
		BuildId: "b5",
		Command: protocol.ExecCommand("true"),
	})
	transport.received <- protocol.CancelBuildMessage("b4")

	completed := transport.waitForAction(t, protocol.ReportCompletedAction)
	report, err := completed.DataReport()
	if err != nil {
		t.Fatal(err)
	}
	if report.BuildId != "b4" {
		t.Errorf("completed buildId = %q, want the first assignment", report.BuildId)
	}
	if err := stop(); err != nil {
		t.Fatal(err)
	}

	transport.mu.Lock()
	defer transport.mu.Unlock()
	for _, msg := range transport.sent {
		if msg.Action != protocol.ReportCurrentStatusAction {
			continue
		}
		r, err := msg.DataReport()
		if err != nil {
			t.Fatal(err)
		}
		if r.BuildId == "b5" {
			t.Error("dropped assignment still produced status reports")
		}
	}
}
