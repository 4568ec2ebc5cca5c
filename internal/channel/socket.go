package channel

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
)

// Socket is a single bidirectional connection. Read blocks until a
// frame arrives or the connection dies.
type Socket interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer establishes sockets. Tests substitute a fake implementation.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Socket, error)
}

// WebsocketDialer dials real websocket connections.
type WebsocketDialer struct {
	HTTPClient *http.Client
}

// Dial implements Dialer.
func (d WebsocketDialer) Dial(ctx context.Context, url string, header http.Header) (Socket, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: header,
		HTTPClient: d.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	return &wsSocket{conn: conn}, nil
}

type wsSocket struct {
	conn *websocket.Conn
}

func (s *wsSocket) Read(ctx context.Context) ([]byte, error) {
	_, data, err := s.conn.Read(ctx)
	return data, err
}

func (s *wsSocket) Write(ctx context.Context, data []byte) error {
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *wsSocket) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "client disconnect")
}
