package agent

import (
	"sync"

	"github.com/relayci/relay-agent/internal/build"
)

// activeBuild is the single slot holding the currently running build's id
// and cancellation token. The message dispatcher writes it, the build
// goroutine clears it, and cancel requests read it, so every access goes
// through the lock.
type activeBuild struct {
	mu      sync.Mutex
	buildId string
	token   *build.Token
}

// begin claims the slot for buildId. It fails when another build holds it.
func (a *activeBuild) begin(buildId string, token *build.Token) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.buildId != "" {
		return false
	}
	a.buildId = buildId
	a.token = token
	return true
}

// cancel triggers the token when buildId matches the active build. A
// mismatched or idle cancel is a no-op.
func (a *activeBuild) cancel(buildId string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.buildId == "" || a.buildId != buildId {
		return false
	}
	a.token.Cancel()
	return true
}

// cancelCurrent cancels whatever build is active, if any.
func (a *activeBuild) cancelCurrent() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token != nil {
		a.token.Cancel()
	}
}

// clear releases the slot. It is a no-op when buildId no longer holds it.
func (a *activeBuild) clear(buildId string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.buildId != buildId {
		return
	}
	a.buildId = ""
	a.token = nil
}
