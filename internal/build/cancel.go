package build

import "sync"

// Token is the cooperative cancellation handle for one build. Cancel may be
// called any number of times from any goroutine; the executor observes it
// between commands and on its process poll ticks.
type Token struct {
	once sync.Once
	done chan struct{}
}

func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel requests cancellation. It never blocks.
func (t *Token) Cancel() {
	t.once.Do(func() {
		close(t.done)
	})
}

// Canceled reports whether cancellation has been requested.
func (t *Token) Canceled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed on cancellation.
func (t *Token) Done() <-chan struct{} {
	return t.done
}
