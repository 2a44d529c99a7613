package notify

import (
	"context"
	"io"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/fluscore/internal/contracts"
	"github.com/wonny/fluscore/pkg/config"
	"github.com/wonny/fluscore/pkg/logger"
	"github.com/wonny/fluscore/pkg/redis"
	"github.com/wonny/fluscore/pkg/testhelpers"
)

var scoreDay = contracts.DateOf(2018, time.July, 1)

// sentFrame is a frame as the broker saw it
type sentFrame struct {
	Command string
	Headers map[string]string
	Body    string
}

// broker records frames and answers CONNECT unless refuse is set
type broker struct {
	mu     sync.Mutex
	frames []sentFrame
	refuse bool
	done   chan struct{}
}

func newBroker() *broker {
	return &broker{done: make(chan struct{})}
}

func (b *broker) handle(f *frame.Frame) (reply *frame.Frame, closeSession bool) {
	sf := sentFrame{Command: f.Command, Headers: map[string]string{}, Body: string(f.Body)}
	for _, k := range []string{"login", "passcode", "destination", "content-type", "receipt"} {
		if v, ok := f.Header.Contains(k); ok {
			sf.Headers[k] = v
		}
	}
	b.mu.Lock()
	b.frames = append(b.frames, sf)
	b.mu.Unlock()

	switch f.Command {
	case "CONNECT", "STOMP":
		if b.refuse {
			return frame.New("ERROR", "message", "bad credentials"), true
		}
		return frame.New("CONNECTED", "version", "1.1", "heart-beat", "0,0"), false
	case "DISCONNECT":
		return frame.New("RECEIPT", "receipt-id", f.Header.Get("receipt")), true
	}
	return nil, false
}

func (b *broker) recorded() []sentFrame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sentFrame(nil), b.frames...)
}

// session reads frames from rw until the client disconnects
func (b *broker) session(rw io.ReadWriter) {
	defer close(b.done)

	r, w := frame.NewReader(rw), frame.NewWriter(rw)
	for {
		f, err := r.Read()
		if err != nil {
			return
		}
		if f == nil {
			continue // heart-beat
		}
		reply, closeSession := b.handle(f)
		if reply != nil {
			if err := w.Write(reply); err != nil {
				return
			}
		}
		if closeSession {
			return
		}
	}
}

func (b *broker) serveWS(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{Subprotocols: []string{"v12.stomp"}}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer ws.Close()
		b.session(newWSStream(ws))
	}))
}

func (b *broker) serveTCP(t *testing.T) net.Listener {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		b.session(conn)
	}()
	return ln
}

func (b *broker) wait(t *testing.T) {
	t.Helper()
	select {
	case <-b.done:
	case <-time.After(5 * time.Second):
		t.Fatal("broker session did not finish")
	}
}

func stompConfig(uri string) config.NotifyConfig {
	return config.NotifyConfig{
		Enabled:     true,
		ModelID:     1,
		Driver:      config.NotifyDriverStomp,
		URI:         uri,
		Destination: "/queue/PubModelScore.Q",
		User:        "publisher",
		Password:    "secret",
	}
}

func assertSession(t *testing.T, frames []sentFrame) {
	t.Helper()
	require.Len(t, frames, 3)

	assert.Equal(t, "CONNECT", frames[0].Command)
	assert.Equal(t, "publisher", frames[0].Headers["login"])
	assert.Equal(t, "secret", frames[0].Headers["passcode"])

	assert.Equal(t, "SEND", frames[1].Command)
	assert.Equal(t, "/queue/PubModelScore.Q", frames[1].Headers["destination"])
	assert.Equal(t, "text/plain", frames[1].Headers["content-type"])
	assert.Equal(t, "date=2018-07-01\nvalue=12.5", frames[1].Body)

	assert.Equal(t, "DISCONNECT", frames[2].Command)
	assert.NotEmpty(t, frames[2].Headers["receipt"])
}

func TestStomp_WebSocket(t *testing.T) {
	b := newBroker()
	server := b.serveWS(t)
	defer server.Close()

	uri := "ws" + strings.TrimPrefix(server.URL, "http")
	n, err := New(stompConfig(uri), nil, logger.NewNop())
	require.NoError(t, err)

	require.NoError(t, n.Publish(context.Background(), scoreDay, 12.5))
	b.wait(t)
	assertSession(t, b.recorded())
}

func TestStomp_TCP(t *testing.T) {
	b := newBroker()
	ln := b.serveTCP(t)
	defer ln.Close()

	n := NewStomp(stompConfig("tcp://"+ln.Addr().String()), logger.NewNop())

	require.NoError(t, n.Publish(context.Background(), scoreDay, 12.5))
	b.wait(t)
	assertSession(t, b.recorded())
}

func TestStomp_ConnectRefused(t *testing.T) {
	b := newBroker()
	b.refuse = true
	server := b.serveWS(t)
	defer server.Close()

	n := NewStomp(stompConfig("ws"+strings.TrimPrefix(server.URL, "http")), logger.NewNop())

	err := n.Publish(context.Background(), scoreDay, 12.5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad credentials")
	b.wait(t)
	assert.Len(t, b.recorded(), 1, "nothing is sent after a refused CONNECT")
}

func TestStomp_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	n := NewStomp(stompConfig("tcp://"+addr), logger.NewNop())
	assert.Error(t, n.Publish(context.Background(), scoreDay, 1))

	n = NewStomp(stompConfig("amqp://"+addr), logger.NewNop())
	assert.Error(t, n.Publish(context.Background(), scoreDay, 1))
}

func TestFormatMessage(t *testing.T) {
	tests := []struct {
		value float64
		want  string
	}{
		{12.5, "date=2018-07-01\nvalue=12.5"},
		{3, "date=2018-07-01\nvalue=3.0"},
		{0.000123, "date=2018-07-01\nvalue=0.000123"},
		{math.NaN(), "date=2018-07-01\nvalue=NaN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatMessage(scoreDay, tt.value))
		})
	}
}

func TestNew(t *testing.T) {
	disabledRedis, err := redis.New(&config.Config{})
	require.NoError(t, err)

	n, err := New(config.NotifyConfig{Enabled: false}, nil, logger.NewNop())
	require.NoError(t, err)
	assert.IsType(t, Nop{}, n)
	assert.NoError(t, n.Publish(context.Background(), scoreDay, 1))

	_, err = New(config.NotifyConfig{Enabled: true, Driver: config.NotifyDriverStomp}, nil, logger.NewNop())
	assert.Error(t, err, "stomp without URI")

	_, err = New(config.NotifyConfig{Enabled: true, Driver: config.NotifyDriverRedis}, disabledRedis, logger.NewNop())
	assert.Error(t, err, "redis driver without redis")

	_, err = New(config.NotifyConfig{Enabled: true, Driver: "kafka"}, nil, logger.NewNop())
	assert.Error(t, err)
}

func TestRedis_Publish(t *testing.T) {
	addr := testhelpers.GetTestRedisAddr(t)
	ctx := context.Background()

	client, err := redis.Dial(ctx, &goredis.Options{Addr: addr})
	require.NoError(t, err)
	defer client.Close()

	sub := client.Redis().Subscribe(ctx, "fluscore:scores")
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	n, err := New(config.NotifyConfig{Enabled: true, Driver: config.NotifyDriverRedis, Channel: "fluscore:scores"}, client, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, n.Publish(ctx, scoreDay, 12.5))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "date=2018-07-01\nvalue=12.5", msg.Payload)
}
