package notify

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/gorilla/websocket"

	"github.com/wonny/fluscore/internal/contracts"
	"github.com/wonny/fluscore/pkg/config"
	"github.com/wonny/fluscore/pkg/logger"
)

// stompSessionTimeout bounds one connect/send/disconnect session
const stompSessionTimeout = 10 * time.Second

// Stomp sends each score with a fresh CONNECT / SEND / DISCONNECT session.
// MQ_URI selects the transport: ws:// or wss:// for STOMP over WebSocket, tcp:// for raw TCP.
type Stomp struct {
	uri         string
	destination string
	login       string
	passcode    string
	logger      *logger.Logger
}

// NewStomp creates a STOMP notifier
func NewStomp(cfg config.NotifyConfig, log *logger.Logger) *Stomp {
	return &Stomp{
		uri:         cfg.URI,
		destination: cfg.Destination,
		login:       cfg.User,
		passcode:    cfg.Password,
		logger:      log.WithField("module", "notify").WithField("driver", "stomp"),
	}
}

func (s *Stomp) Publish(ctx context.Context, day time.Time, value float64) error {
	u, err := url.Parse(s.uri)
	if err != nil {
		return fmt.Errorf("stomp uri: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, stompSessionTimeout)
	defer cancel()

	transport, err := dialTransport(ctx, u)
	if err != nil {
		return err
	}
	defer transport.Close()

	conn, err := stomp.Connect(transport,
		stomp.ConnOpt.Login(s.login, s.passcode),
		stomp.ConnOpt.Host(u.Hostname()),
		stomp.ConnOpt.HeartBeat(0, 0),
	)
	if err != nil {
		return fmt.Errorf("stomp connect: %w", err)
	}

	if err := conn.Send(s.destination, "text/plain", []byte(FormatMessage(day, value))); err != nil {
		conn.MustDisconnect()
		return fmt.Errorf("stomp send: %w", err)
	}

	// the broker's receipt confirms the SEND was processed
	if err := conn.Disconnect(); err != nil {
		return fmt.Errorf("stomp disconnect: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"destination": s.destination,
		"date":        day.Format(contracts.DateLayout),
	}).Info("Score published")
	return nil
}

// dialTransport opens the byte stream the STOMP session runs over.
// Its deadline is the context deadline.
func dialTransport(ctx context.Context, u *url.URL) (io.ReadWriteCloser, error) {
	deadline, _ := ctx.Deadline()

	switch u.Scheme {
	case "ws", "wss":
		dialer := websocket.Dialer{
			HandshakeTimeout: stompSessionTimeout,
			Subprotocols:     []string{"v10.stomp", "v11.stomp", "v12.stomp"},
		}
		ws, _, err := dialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("stomp dial %s: %w", u.Host, err)
		}
		ws.SetReadDeadline(deadline)
		ws.SetWriteDeadline(deadline)
		return newWSStream(ws), nil
	case "tcp":
		var d net.Dialer
		c, err := d.DialContext(ctx, "tcp", u.Host)
		if err != nil {
			return nil, fmt.Errorf("stomp dial %s: %w", u.Host, err)
		}
		c.SetDeadline(deadline)
		return c, nil
	default:
		return nil, fmt.Errorf("stomp uri %q: unsupported scheme %q", u.String(), u.Scheme)
	}
}

// wsStream presents a WebSocket as a byte stream: each Write is one text
// message and Read drains messages back to back.
type wsStream struct {
	ws *websocket.Conn
	r  io.Reader
}

func newWSStream(ws *websocket.Conn) *wsStream {
	return &wsStream{ws: ws}
}

func (s *wsStream) Read(p []byte) (int, error) {
	for {
		if s.r == nil {
			_, r, err := s.ws.NextReader()
			if err != nil {
				return 0, err
			}
			s.r = r
		}

		n, err := s.r.Read(p)
		if err == io.EOF {
			s.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *wsStream) Write(p []byte) (int, error) {
	if err := s.ws.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *wsStream) Close() error {
	s.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return s.ws.Close()
}

var _ contracts.Notifier = (*Stomp)(nil)
