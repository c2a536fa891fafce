package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/babelbye/bbchat/internal/bus"
	"github.com/babelbye/bbchat/internal/status"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer is a websocket endpoint that hands each accepted connection to
// the test through conns.
type fakeServer struct {
	*httptest.Server
	conns   chan *websocket.Conn
	queries chan string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		conns:   make(chan *websocket.Conn, 4),
		queries: make(chan string, 4),
	}
	upgrader := websocket.Upgrader{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			http.NotFound(w, r)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.queries <- r.URL.RawQuery
		fs.conns <- ws
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case ws := <-fs.conns:
		t.Cleanup(func() { _ = ws.Close() })
		return ws
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for client connection")
		return nil
	}
}

// recorder collects events delivered to a Handler.
type recorder struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Event, 32)}
}

func (r *recorder) handle(evt Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
	r.ch <- evt
}

func (r *recorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case evt := <-r.ch:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
		return nil
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func openSession(t *testing.T, fs *fakeServer, rec *recorder) (*Session, *websocket.Conn) {
	t.Helper()
	s := NewSession(fs.URL, nil, nil)
	require.NoError(t, s.Open(context.Background(), Credentials{UserID: "me"}, rec.handle))
	t.Cleanup(s.Close)
	return s, fs.accept(t)
}

func TestOpenUsesTokenOverUserID(t *testing.T) {
	fs := newFakeServer(t)
	s := NewSession(fs.URL, nil, nil)
	require.NoError(t, s.Open(context.Background(), Credentials{Token: "tok", UserID: "me"}, newRecorder().handle))
	defer s.Close()
	fs.accept(t)

	assert.Equal(t, "token=tok", <-fs.queries)
	assert.Equal(t, status.Online, s.State())
}

func TestOpenWithoutCredentials(t *testing.T) {
	s := NewSession("http://127.0.0.1:1", nil, nil)
	err := s.Open(context.Background(), Credentials{}, newRecorder().handle)
	assert.ErrorIs(t, err, ErrNoCredentials)
	assert.Equal(t, status.Offline, s.State())
}

func TestOpenTwiceFails(t *testing.T) {
	fs := newFakeServer(t)
	rec := newRecorder()
	s, _ := openSession(t, fs, rec)

	err := s.Open(context.Background(), Credentials{UserID: "me"}, rec.handle)
	assert.ErrorIs(t, err, ErrAlreadyOpen)
}

func TestDialFailureMovesToError(t *testing.T) {
	fs := newFakeServer(t)
	url := fs.URL
	fs.Close()

	s := NewSession(url, nil, nil)
	err := s.Open(context.Background(), Credentials{UserID: "me"}, newRecorder().handle)
	require.Error(t, err)
	assert.Equal(t, status.Error, s.State())
}

func TestInboundEventsArriveInOrder(t *testing.T) {
	fs := newFakeServer(t)
	rec := newRecorder()
	_, server := openSession(t, fs, rec)

	frames := []string{
		`{"type":"message","from":"u2","text":"one","original":"one","translated":false}`,
		`{"type":"delivery","to":"u2","status":"typing"}`,
		`{"type":"message","from":"u2","text":"two","original":"dos","translated":true}`,
	}
	for _, f := range frames {
		require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(f)))
	}

	assert.Equal(t, MessageEvent{From: "u2", Text: "one", Original: "one"}, rec.next(t))
	assert.Equal(t, DeliveryEvent{To: "u2", Status: DeliveryTyping}, rec.next(t))
	assert.Equal(t, MessageEvent{From: "u2", Text: "two", Original: "dos", Translated: true}, rec.next(t))
}

func TestMalformedFrameKeepsConnectionOpen(t *testing.T) {
	fs := newFakeServer(t)
	rec := newRecorder()
	s, server := openSession(t, fs, rec)

	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`garbage`)))
	evt := rec.next(t)
	invalid, ok := evt.(InvalidEvent)
	require.True(t, ok, "got %T, want InvalidEvent", evt)
	assert.ErrorIs(t, invalid.Err, ErrMalformedFrame)

	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","message":"connection_required"}`)))
	assert.Equal(t, ErrorEvent{Message: "connection_required"}, rec.next(t))
	assert.Equal(t, status.Online, s.State())
}

func TestSendWritesFrames(t *testing.T) {
	fs := newFakeServer(t)
	rec := newRecorder()
	s, server := openSession(t, fs, rec)

	require.NoError(t, s.Send(MessageIntent{To: "u2", Text: "hola", ClientID: "c1"}))
	require.NoError(t, s.Send(TypingIntent{To: "u2"}))

	_ = server.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := server.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"message","to":"u2","text":"hola","client_id":"c1"}`, string(data))

	_, data, err = server.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"typing","to":"u2"}`, string(data))
}

func TestRemoteCloseDeliversClosedOnce(t *testing.T) {
	b := bus.New()
	statusCh, unsub := b.Subscribe("transport.", 16)
	defer unsub()

	fs := newFakeServer(t)
	rec := newRecorder()
	s := NewSession(fs.URL, status.NewMachine(b), nil)
	require.NoError(t, s.Open(context.Background(), Credentials{UserID: "me"}, rec.handle))
	server := fs.accept(t)

	_ = server.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"), time.Now().Add(time.Second))
	_ = server.Close()

	evt := rec.next(t)
	_, ok := evt.(ClosedEvent)
	require.True(t, ok, "got %T, want ClosedEvent", evt)

	assert.Eventually(t, func() bool { return s.State() == status.Closed }, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, s.Send(TypingIntent{To: "u2"}), ErrClosed)

	// Local close after a remote drop adds nothing.
	s.Close()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.count())

	// No reconnect was attempted.
	select {
	case <-fs.conns:
		t.Fatal("session reconnected on its own")
	default:
	}

	var states []status.State
	for len(statusCh) > 0 {
		states = append(states, (<-statusCh).Payload.(status.StatusChange).To)
	}
	assert.Equal(t, []status.State{status.Connecting, status.Online, status.Closed}, states)
}

func TestCloseIsIdempotentAndSafe(t *testing.T) {
	// Closing a never-opened session is a no-op.
	idle := NewSession("http://127.0.0.1:1", nil, nil)
	idle.Close()
	assert.ErrorIs(t, idle.Send(TypingIntent{To: "u2"}), ErrClosed)

	fs := newFakeServer(t)
	rec := newRecorder()
	s, _ := openSession(t, fs, rec)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Close()
		}()
		go func() {
			defer wg.Done()
			_ = s.Send(MessageIntent{To: "u2", Text: "x", ClientID: "c"})
		}()
	}
	wg.Wait()

	assert.Equal(t, status.Closed, s.State())
	assert.ErrorIs(t, s.Send(TypingIntent{To: "u2"}), ErrClosed)
	// A local close is not reported as a connection loss.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
}

func TestReopenAfterClose(t *testing.T) {
	fs := newFakeServer(t)
	rec := newRecorder()
	s, _ := openSession(t, fs, rec)

	s.Close()
	require.NoError(t, s.Open(context.Background(), Credentials{UserID: "me"}, rec.handle))
	server := fs.accept(t)
	assert.Equal(t, status.Online, s.State())

	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","message":"x"}`)))
	assert.Equal(t, ErrorEvent{Message: "x"}, rec.next(t))
}
