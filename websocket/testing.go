package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	httpcmn "github.com/tilemesh/tilemesh/http"
	"github.com/tilemesh/tilemesh/messages"
	"github.com/tilemesh/tilemesh/models"
	"github.com/tilemesh/tilemesh/modules"
	"github.com/tilemesh/tilemesh/quadtree"
	"golang.org/x/net/websocket"
)

// Creates a testing environement to unit test handlers and modules.
func NewTestingEnv(t *testing.T, newHandler func() Handler) (*websocket.Conn, *websocket.Conn, func()) {
	var mutex sync.Mutex
	logger := t.Log

	logs.Encoder = func(v any) ([]byte, error) {
		return json.MarshalIndent(v, "", "  ")
	}

	logs.SetLogger(func(e logs.Entry) {
		mutex.Lock()
		defer mutex.Unlock()

		if logger != nil {
			logger(e)
		}
	})

	errors.Encoder = json.Marshal

	clientA, clientB, close := newTestingEnv(t, newHandler)
	return clientA, clientB, func() {
		mutex.Lock()
		defer mutex.Unlock()
		logger = nil
		close()
	}
}

func newTestingEnv(t *testing.T, newHandler func() Handler) (*websocket.Conn, *websocket.Conn, func()) {
	server := httptest.NewServer(websocket.Server{
		Handshake: func(c *websocket.Config, r *http.Request) error {
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			handler := newHandler()
			defer handler.Close()

			Handle(context.Background(), conn, handler)
		},
	})

	newConn := func() *websocket.Conn {
		config, err := websocket.NewConfig(
			strings.ReplaceAll(server.URL, "http://", "ws://"),
			"http://localhost",
		)
		if err != nil {
			t.Fatalf("error initializing web socket: %s", err)
		}

		config.Header.Set("User-Agent", "ted")
		config.Header.Set("X-Forwarded-for", "192.0.0.0")
		config.Header.Set(httpcmn.HeaderTilemeshClientID, uuid.NewString())

		conn, err := websocket.DialConfig(config)
		if err != nil {
			t.Fatalf("error dialing web socket: %s", err)
		}

		return conn
	}

	clientA := newConn()
	clientB := newConn()

	return clientA, clientB, func() {
		clientA.Close()
		clientB.Close()
		server.Close()
	}
}

type testIdentity struct{}

func (s testIdentity) ServerID() string {
	return "ted"
}

func newTestHandler(newModule ...func() modules.Module) func() Handler {
	sceneStore := &models.SceneStore{
		Identity: &testIdentity{},
	}
	return func() Handler {
		mods := make([]modules.Module, len(newModule))
		for i, nm := range newModule {
			mods[i] = nm()
		}
		var h Handler = &RealtimeHandler{
			ClientSyncClockInterval: time.Millisecond * 250,
			ClientIdleTimeout:       time.Minute,
			FrameDuration:           time.Millisecond * 20,
			Scenes:                  sceneStore,
			Modules:                 mods,
			DefaultTileSize:         32,
			DefaultExtent:           quadtree.Extent{X: 4, Y: 4},
		}

		h = HandlerWithLogs(h, time.Millisecond*100)
		h = HandlerWithMetrics(h, "https://tilemesh-test.com")
		return h
	}
}

// TestResponseSender collects the messages a handler under test responds
// with, without a connection.
type TestResponseSender struct {
	mutex sync.Mutex
	msgs  []messages.Msg
}

func (s *TestResponseSender) Send(p messages.Payload) {
	msg, err := messages.FromPayload(p)
	if err != nil {
		panic(err)
	}
	s.SendMsg(msg)
}

func (s *TestResponseSender) SendMsg(msg messages.Msg) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.msgs = append(s.msgs, msg)
}

// Msgs returns the messages sent so far.
func (s *TestResponseSender) Msgs() []messages.Msg {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	out := make([]messages.Msg, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// sendTestMsg frames and writes a typed message on a test client connection.
func sendTestMsg(t *testing.T, conn *websocket.Conn, p messages.Payload) {
	t.Helper()

	msg, err := messages.FromPayload(p)
	if err != nil {
		t.Fatalf("framing test message failed: %s", err)
	}
	if _, err := messages.Send(conn, msg); err != nil {
		t.Fatalf("sending test message failed: %s", err)
	}
}

// receiveTestMsg reads messages from a test client connection until one
// passes every filter, failing the test after the deadline.
func receiveTestMsg(t *testing.T, conn *websocket.Conn, filters ...func(messages.Msg) bool) messages.Msg {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(time.Second * 5)); err != nil {
		t.Fatalf("setting read deadline failed: %s", err)
	}

receive:
	for {
		msg, _, err := messages.Receive(conn)
		if err != nil {
			t.Fatalf("receiving test message failed: %s", err)
		}

		for _, filter := range filters {
			if !filter(msg) {
				continue receive
			}
		}
		return msg
	}
}

func filterByType(v messages.MsgType) func(messages.Msg) bool {
	return func(msg messages.Msg) bool {
		return msg.Type == v
	}
}

func filterByRequestID(v uint32) func(messages.Msg) bool {
	return func(msg messages.Msg) bool {
		var res messages.Response
		if err := msg.DataTo(&res); err != nil {
			return false
		}
		return res.RequestID == v
	}
}
