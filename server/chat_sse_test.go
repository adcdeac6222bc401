package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kicklite/kicklite/chat"
	"github.com/kicklite/kicklite/testutil"
)

// fakeRelayConn is a scripted relay connection. Frames pushed into reads are
// returned from ReadMessage; Close unblocks any pending read.
type fakeRelayConn struct {
	reads chan []byte

	mu     sync.Mutex
	closed bool
}

func newFakeRelayConn() *fakeRelayConn {
	return &fakeRelayConn{reads: make(chan []byte, 16)}
}

func (c *fakeRelayConn) ReadMessage() (int, []byte, error) {
	data, ok := <-c.reads
	if !ok {
		return 0, nil, context.Canceled
	}
	return 1, data, nil
}

func (c *fakeRelayConn) WriteMessage(messageType int, data []byte) error {
	return nil
}

func (c *fakeRelayConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.reads)
	}
	return nil
}

func (c *fakeRelayConn) push(t *testing.T, frame interface{}) {
	t.Helper()
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	c.reads <- data
}

func chatFrame(id, sender, content string) map[string]interface{} {
	return map[string]interface{}{
		"event": "message",
		"topic": "room:chat:42",
		"payload": map[string]interface{}{
			"data": map[string]interface{}{
				"id":      id,
				"content": content,
				"sender":  map[string]interface{}{"username": sender},
			},
		},
	}
}

func TestChatStreamSSE(t *testing.T) {
	mock := testutil.NewMockServer(t)
	mock.MockChannelResponse("streamer", 42, true)

	conn := newFakeRelayConn()
	deps, _ := newTestDeps(t)
	deps.Kick.BaseURL = mock.URL
	deps.Hub = chat.NewHub(chat.HubConfig{
		Resolver: deps.Kick,
		RelayURL: "ws://relay.invalid/socket",
		Dialer: func(ctx context.Context, url string) (chat.Conn, error) {
			return conn, nil
		},
	})
	srv := httptest.NewServer(NewMux(context.Background(), deps))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/chat/streamer/stream", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	conn.push(t, chatFrame("m1", "alice", "hello chat"))
	conn.push(t, chatFrame("m2", "bob", "hey"))

	scanner := bufio.NewScanner(resp.Body)
	var events []chatEvent
	for scanner.Scan() && len(events) < 2 {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev chatEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("decode event %q: %v", line, err)
		}
		events = append(events, ev)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (scan err: %v)", len(events), scanner.Err())
	}
	if events[0].Sender != "alice" || events[1].Sender != "bob" {
		t.Errorf("senders = %q, %q", events[0].Sender, events[1].Sender)
	}
	if len(events[0].Tokens) == 0 || events[0].Tokens[0].Text != "hello" {
		t.Errorf("tokens = %+v", events[0].Tokens)
	}
}

func TestChatMessagesSnapshotWhileStreaming(t *testing.T) {
	mock := testutil.NewMockServer(t)
	mock.MockChannelResponse("streamer", 42, true)

	conn := newFakeRelayConn()
	deps, _ := newTestDeps(t)
	deps.Kick.BaseURL = mock.URL
	deps.Hub = chat.NewHub(chat.HubConfig{
		Resolver: deps.Kick,
		RelayURL: "ws://relay.invalid/socket",
		Dialer: func(ctx context.Context, url string) (chat.Conn, error) {
			return conn, nil
		},
	})
	handler := NewMux(context.Background(), deps)

	sub, err := deps.Hub.Subscribe(context.Background(), "streamer")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	conn.push(t, chatFrame("m1", "alice", "hello"))
	deadline := time.After(2 * time.Second)
	select {
	case <-sub.Messages:
	case <-deadline:
		t.Fatal("message never arrived")
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/chat/streamer/messages", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"active":true`) || !strings.Contains(body, `"alice"`) {
		t.Errorf("snapshot body = %s", body)
	}
}
