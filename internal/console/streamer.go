package console

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultFlushInterval is how often buffered console output is uploaded.
	DefaultFlushInterval = 5 * time.Second

	// writeQueueSize bounds how many chunks may be pending between the
	// writers and the worker that owns the buffer.
	writeQueueSize = 64
)

// Streamer collects build console output, prefixes every line with a
// wall-clock timestamp and periodically POSTs the buffered lines to the
// server's console-log endpoint. Writers never touch the network: Write
// hands chunks to a single worker goroutine over a bounded queue. Upload
// failures drop that flush's bytes; there is no retry.
type Streamer struct {
	url    *url.URL
	client *http.Client
	log    *zap.Logger

	buf           *lineBuffer
	flushInterval time.Duration

	write   chan []byte
	stop    chan struct{}
	stopped chan struct{}
	closing sync.Once
	done    sync.WaitGroup
}

// NewStreamer resolves uri against base and starts the upload worker. The
// returned streamer must be closed to guarantee the final flush.
func NewStreamer(client *http.Client, uri string, base *url.URL, flushInterval time.Duration, logger *zap.Logger) (*Streamer, error) {
	u, err := ResolveUrl(base, uri)
	if err != nil {
		return nil, fmt.Errorf("resolve console url %q: %w", uri, err)
	}
	s := &Streamer{
		url:           u,
		client:        client,
		log:           logger.With(zap.String("mod", "console")),
		buf:           newLineBuffer(0),
		flushInterval: flushInterval,
		write:         make(chan []byte, writeQueueSize),
		stop:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	s.done.Add(1)
	go s.worker()
	return s, nil
}

// ResolveUrl turns a console upload target into an absolute URL. Absolute
// targets are used as given; anything else is treated as a path and
// re-anchored at the root of the base server URL, keeping its query.
func ResolveUrl(base *url.URL, target string) (*url.URL, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	if u.IsAbs() {
		return u, nil
	}
	return &url.URL{
		Scheme:   base.Scheme,
		Host:     base.Host,
		Path:     "/" + strings.TrimPrefix(u.Path, "/"),
		RawQuery: u.RawQuery,
	}, nil
}

// Write queues a copy of p for upload. It implements io.Writer so process
// stdout/stderr can be wired straight in. Writes after Close are dropped.
func (s *Streamer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	chunk := make([]byte, len(p))
	copy(chunk, p)
	select {
	case s.write <- chunk:
	case <-s.stopped:
	}
	return len(p), nil
}

// WriteLn writes one formatted line.
func (s *Streamer) WriteLn(format string, a ...interface{}) {
	s.Write([]byte(fmt.Sprintf(format+"\n", a...)))
}

// Close drains the queue, performs the final flush and waits for the worker
// to exit. No buffered bytes are lost on a clean close.
func (s *Streamer) Close() {
	s.closing.Do(func() {
		close(s.stop)
	})
	s.done.Wait()
}

func (s *Streamer) worker() {
	defer s.done.Done()
	defer close(s.stopped)
	flushTick := time.NewTicker(s.flushInterval)
	defer flushTick.Stop()
	for {
		select {
		case chunk := <-s.write:
			s.buf.Append(time.Now(), chunk)
		case <-flushTick.C:
			s.flush()
		case <-s.stop:
			s.drain()
			s.flush()
			s.log.Debug("console streamer closed")
			return
		}
	}
}

func (s *Streamer) drain() {
	for {
		select {
		case chunk := <-s.write:
			s.buf.Append(time.Now(), chunk)
		default:
			return
		}
	}
}

func (s *Streamer) flush() {
	data := s.buf.Take()
	if len(data) == 0 {
		return
	}
	resp, err := s.client.Post(s.url.String(), "text/plain; charset=utf-8", bytes.NewReader(data))
	if err != nil {
		s.log.Warn("console upload failed, output dropped", zap.Int("bytes", len(data)), zap.Error(err))
		return
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		s.log.Warn("console upload rejected, output dropped",
			zap.Int("bytes", len(data)),
			zap.Int("status", resp.StatusCode))
	}
}
