package console

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

var timestampPrefix = regexp.MustCompile(`(?m)^\d{2}:\d{2}:\d{2}\.\d{3} `)

func stripTimestamps(s string) string {
	return timestampPrefix.ReplaceAllString(s, "")
}

type uploadRecorder struct {
	mu       sync.Mutex
	payloads []string
	status   int
}

func (r *uploadRecorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	r.payloads = append(r.payloads, string(body))
	r.mu.Unlock()
	status := r.status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
}

func (r *uploadRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

func (r *uploadRecorder) all() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.payloads, "")
}

func newTestStreamer(t *testing.T, rec *uploadRecorder, flushInterval time.Duration) *Streamer {
	t.Helper()
	ts := httptest.NewServer(rec)
	t.Cleanup(ts.Close)
	base, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewStreamer(ts.Client(), ts.URL, base, flushInterval, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestStreamerFlushOnClose(t *testing.T) {
	rec := &uploadRecorder{}
	s := newTestStreamer(t, rec, time.Hour)

	s.Write([]byte("a\n"))
	s.Write([]byte("b\n"))
	s.Close()

	if got := rec.count(); got != 1 {
		t.Fatalf("expected exactly one flushed payload, got %d", got)
	}
	if got := stripTimestamps(rec.all()); got != "a\nb\n" {
		t.Errorf("payload = %q, want %q", got, "a\nb\n")
	}
	if !timestampPrefix.MatchString(rec.all()) {
		t.Errorf("payload lines are not timestamp-prefixed: %q", rec.all())
	}
}

func TestStreamerTimerFlush(t *testing.T) {
	rec := &uploadRecorder{}
	s := newTestStreamer(t, rec, 20*time.Millisecond)
	defer s.Close()

	s.Write([]byte("tick\n"))

	deadline := time.Now().Add(2 * time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rec.count() == 0 {
		t.Fatal("timer flush never happened")
	}
	if got := stripTimestamps(rec.all()); got != "tick\n" {
		t.Errorf("payload = %q, want %q", got, "tick\n")
	}
}

func TestStreamerAddsMissingNewline(t *testing.T) {
	rec := &uploadRecorder{}
	s := newTestStreamer(t, rec, time.Hour)

	s.Write([]byte("no newline"))
	s.Close()

	if got := stripTimestamps(rec.all()); got != "no newline\n" {
		t.Errorf("payload = %q, want %q", got, "no newline\n")
	}
}

func TestStreamerDropsOnUploadFailure(t *testing.T) {
	rec := &uploadRecorder{status: http.StatusInternalServerError}
	s := newTestStreamer(t, rec, time.Hour)

	s.Write([]byte("lost\n"))
	s.Close()

	// One attempt, no retry of the dropped bytes.
	if got := rec.count(); got != 1 {
		t.Errorf("expected a single upload attempt, got %d", got)
	}
}

func TestStreamerWriteAfterCloseDoesNotBlock(t *testing.T) {
	rec := &uploadRecorder{}
	s := newTestStreamer(t, rec, time.Hour)
	s.Close()

	done := make(chan struct{})
	go func() {
		s.Write([]byte("late\n"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Write blocked after Close")
	}
}

func TestResolveUrl(t *testing.T) {
	base, _ := url.Parse("https://ci.example.com:8153")
	tests := []struct {
		name   string
		target string
		want   string
	}{
		{
			name:   "absolute url used as-is",
			target: "https://other.example.com/console?buildId=1",
			want:   "https://other.example.com/console?buildId=1",
		},
		{
			name:   "rooted path resolves against base",
			target: "/console?buildId=2",
			want:   "https://ci.example.com:8153/console?buildId=2",
		},
		{
			name:   "relative path anchors at root",
			target: "console",
			want:   "https://ci.example.com:8153/console",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := ResolveUrl(base, tt.target)
			if err != nil {
				t.Fatal(err)
			}
			if u.String() != tt.want {
				t.Errorf("ResolveUrl(%q) = %q, want %q", tt.target, u.String(), tt.want)
			}
		})
	}
}
