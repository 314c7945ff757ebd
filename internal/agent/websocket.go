package agent

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/relayci/relay-agent/internal/protocol"
	"go.uber.org/zap"
)

// Transport is one bidirectional message channel to the server. Session
// logic depends only on this interface, so a different framing (such as a
// polling transport) can drive the same dispatch, executor and streamer.
// Received is closed when the underlying channel is gone; Send is safe for
// concurrent use.
type Transport interface {
	Send(msg *protocol.Message) error
	Received() <-chan *protocol.Message
	Close() error
}

type wsTransport struct {
	conn     *websocket.Conn
	log      *zap.Logger
	received chan *protocol.Message
	stop     chan struct{}
	closing  sync.Once
	writeMu  sync.Mutex
}

// DialWebSocket opens the persistent session connection. The returned
// transport starts delivering inbound frames immediately.
func DialWebSocket(wsUrl string, header http.Header, logger *zap.Logger) (Transport, error) {
	conn, _, err := websocket.DefaultDialer.Dial(wsUrl, header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %v: %w", wsUrl, err)
	}
	t := &wsTransport{
		conn:     conn,
		log:      logger.With(zap.String("mod", "websocket")),
		received: make(chan *protocol.Message, 16),
		stop:     make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func (t *wsTransport) readLoop() {
	defer close(t.received)
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			t.log.Debug("websocket read ended", zap.Error(err))
			return
		}
		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.log.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		select {
		case t.received <- &msg:
		case <-t.stop:
			return
		}
	}
}

func (t *wsTransport) Send(msg *protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Received() <-chan *protocol.Message {
	return t.received
}

func (t *wsTransport) Close() error {
	t.closing.Do(func() {
		close(t.stop)
	})
	return t.conn.Close()
}
