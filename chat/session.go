package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kicklite/kicklite/telemetry"
)

// State is the connection state of a Session.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Conn is the subset of a websocket connection the session needs. Satisfied by
// *websocket.Conn; tests substitute fakes.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a relay connection. The default dials over gorilla/websocket.
type Dialer func(ctx context.Context, url string) (Conn, error)

func defaultDial(ctx context.Context, url string) (Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// SessionConfig configures a Session. RelayURL, ChannelID, and History are
// required; zero durations fall back to the protocol defaults.
type SessionConfig struct {
	RelayURL  string
	ChannelID int64
	History   *History
	// OnMessage, if set, observes every decoded message after it lands in History.
	OnMessage func(Message)
	Dialer    Dialer
	// HeartbeatInterval defaults to 25s, ReconnectDelay to 5s.
	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
}

// Session owns one realtime connection to the chat relay for a channel room:
// connect, join, heartbeat, reconnect-with-backoff, decode, teardown. A closed
// session is terminal; reconnecting after Close means creating a new Session.
type Session struct {
	url            string
	channelID      int64
	history        *History
	onMessage      func(Message)
	dial           Dialer
	heartbeatEvery time.Duration
	reconnectDelay time.Duration

	mu             sync.Mutex
	ctx            context.Context
	state          State
	notice         string
	conn           Conn
	connEpoch      int
	heartbeatStop  chan struct{}
	reconnect      *time.Timer
	reconnectCount int
	everConnected  bool
	closed         bool
}

// NewSession creates a session in the connecting state. Call Connect to start.
func NewSession(cfg SessionConfig) *Session {
	s := &Session{
		url:            cfg.RelayURL,
		channelID:      cfg.ChannelID,
		history:        cfg.History,
		onMessage:      cfg.OnMessage,
		dial:           cfg.Dialer,
		heartbeatEvery: cfg.HeartbeatInterval,
		reconnectDelay: cfg.ReconnectDelay,
		state:          StateConnecting,
	}
	if s.history == nil {
		s.history = NewHistory(DefaultHistoryLimit)
	}
	if s.dial == nil {
		s.dial = defaultDial
	}
	if s.heartbeatEvery <= 0 {
		s.heartbeatEvery = 25 * time.Second
	}
	if s.reconnectDelay <= 0 {
		s.reconnectDelay = 5 * time.Second
	}
	return s
}

// History returns the buffer this session appends to.
func (s *Session) History() *History { return s.history }

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Notice returns the current human-readable connection notice, empty when healthy.
func (s *Session) Notice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notice
}

// Connect starts the connection attempt. ctx governs dialing for this session's
// lifetime, including automatic reconnects; Close tears everything down.
func (s *Session) Connect(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.ctx = ctx
	s.state = StateConnecting
	s.mu.Unlock()
	go s.connect(ctx)
}

func (s *Session) connect(ctx context.Context) {
	conn, err := s.dial(ctx, s.url)
	if err != nil {
		slog.Warn("chat relay dial failed", slog.Int64("channel_id", s.channelID), slog.Any("err", err))
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return
		}
		s.failLocked()
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conn = conn
	s.connEpoch++
	epoch := s.connEpoch
	s.state = StateConnected
	s.notice = ""
	s.everConnected = true
	stop := make(chan struct{})
	s.heartbeatStop = stop
	s.mu.Unlock()

	telemetry.SetChatConnected(true)
	if telemetry.ChatConnects != nil {
		telemetry.ChatConnects.Inc()
	}
	slog.Info("chat relay connected", slog.Int64("channel_id", s.channelID))

	frame, err := joinFrame(s.channelID)
	if err == nil {
		err = conn.WriteMessage(websocket.TextMessage, frame)
	}
	if err != nil {
		s.connLost(epoch, err)
		return
	}

	go s.heartbeatLoop(conn, stop)
	go s.readLoop(conn, epoch)
}

func (s *Session) heartbeatLoop(conn Conn, stop chan struct{}) {
	ticker := time.NewTicker(s.heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			frame, err := heartbeatFrame()
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				// The read loop observes the broken socket and drives recovery.
				return
			}
		}
	}
}

func (s *Session) readLoop(conn Conn, epoch int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.connLost(epoch, err)
			return
		}
		msg, ok := decodeChatMessage(data)
		if !ok {
			if telemetry.ChatFramesDiscarded != nil {
				telemetry.ChatFramesDiscarded.Inc()
			}
			continue
		}
		s.history.Append(msg)
		if telemetry.ChatMessagesDecoded != nil {
			telemetry.ChatMessagesDecoded.Inc()
		}
		if s.onMessage != nil {
			s.onMessage(msg)
		}
	}
}

// connLost folds socket errors and unexpected closes into the error state.
// Late callbacks from a superseded connection are ignored via the epoch guard.
func (s *Session) connLost(epoch int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || epoch != s.connEpoch {
		return
	}
	slog.Warn("chat relay connection lost", slog.Int64("channel_id", s.channelID), slog.Any("err", err))
	s.stopHeartbeatLocked()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.failLocked()
}

// failLocked transitions to the error state and schedules exactly one
// reconnect. Callers hold s.mu.
func (s *Session) failLocked() {
	telemetry.SetChatConnected(false)
	s.state = StateError
	if s.everConnected {
		s.notice = "chat disconnected"
	} else {
		s.notice = "unable to connect"
	}
	if s.reconnect != nil {
		// A reconnect is already pending; never stack a second timer.
		return
	}
	s.reconnectCount++
	if telemetry.ChatReconnects != nil {
		telemetry.ChatReconnects.Inc()
	}
	s.reconnect = time.AfterFunc(s.reconnectDelay, func() {
		s.mu.Lock()
		s.reconnect = nil
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.state = StateConnecting
		ctx := s.ctx
		s.mu.Unlock()
		if ctx == nil {
			ctx = context.Background()
		}
		s.connect(ctx)
	})
}

func (s *Session) stopHeartbeatLocked() {
	if s.heartbeatStop != nil {
		close(s.heartbeatStop)
		s.heartbeatStop = nil
	}
}

// Close tears the session down: cancels heartbeat and any pending reconnect,
// closes the socket, and prevents all further transitions. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.stopHeartbeatLocked()
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	telemetry.SetChatConnected(false)
}

// reconnectPending reports whether a reconnect timer is outstanding.
func (s *Session) reconnectPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnect != nil
}
