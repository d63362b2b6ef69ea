package engine

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// Transport is the duplex byte-stream socket the engine reads frames from.
// The websocket implementation lives here; tests inject fakes.
type Transport interface {
	// Read blocks until the next raw frame or a connection/context error.
	Read(ctx context.Context) ([]byte, error)
	// Send writes one binary frame.
	Send(ctx context.Context, data []byte) error
	// Close tears the connection down; a blocked Read returns with an error.
	Close() error
}

// DialFunc opens a Transport to the signed push endpoint.
type DialFunc func(ctx context.Context, url string, header http.Header) (Transport, error)

// maxFrameSize bounds a single push frame. Batches on busy rooms reach a
// few hundred KB compressed; the default websocket read limit (32KB) is
// far too small.
const maxFrameSize = 16 << 20

type wsTransport struct {
	conn *websocket.Conn

	// The read loop and the heartbeat goroutine both send; the websocket
	// connection allows one writer at a time.
	sendMu sync.Mutex
}

// DialWebsocket opens the real websocket transport.
func DialWebsocket(ctx context.Context, url string, header http.Header) (Transport, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("dial push endpoint: %w", err)
	}
	conn.SetReadLimit(maxFrameSize)
	return &wsTransport{conn: conn}, nil
}

func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (t *wsTransport) Send(ctx context.Context, data []byte) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	return t.conn.Write(ctx, websocket.MessageBinary, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "session ended")
}
