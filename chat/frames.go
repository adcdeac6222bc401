package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// The relay speaks Phoenix-style envelopes: every frame carries an event name,
// a payload, a client-chosen ref, and a topic.
type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref"`
	Topic   string          `json:"topic"`
}

func newRef() string { return uuid.New().String() }

// joinFrame is the outbound frame that subscribes to a channel's chat room.
func joinFrame(channelID int64) ([]byte, error) {
	payload, err := json.Marshal(struct {
		Token *string `json:"token"`
	}{})
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		Event:   "phx_join",
		Payload: payload,
		Ref:     newRef(),
		Topic:   fmt.Sprintf("room:chat:%d", channelID),
	})
}

// heartbeatFrame keeps the relay connection alive while joined.
func heartbeatFrame() ([]byte, error) {
	return json.Marshal(envelope{
		Event:   "heartbeat",
		Payload: json.RawMessage(`{}`),
		Ref:     newRef(),
		Topic:   "phoenix",
	})
}

type wireSender struct {
	Username string  `json:"username"`
	Color    *string `json:"color"`
}

type wireMessage struct {
	ID        string      `json:"id"`
	Content   string      `json:"content"`
	Sender    *wireSender `json:"sender"`
	CreatedAt string      `json:"created_at"`
}

var jsonNull = []byte("null")

func unwrap(raw json.RawMessage, field string) json.RawMessage {
	var node map[string]json.RawMessage
	if err := json.Unmarshal(raw, &node); err != nil {
		return raw
	}
	if inner, ok := node[field]; ok && len(inner) > 0 && !bytes.Equal(inner, jsonNull) {
		return inner
	}
	return raw
}

// decodeChatMessage interprets an inbound relay frame. Only frames whose event
// names a new chat message are examined; the message payload may sit under
// payload.data and/or a nested message field. Frames without a non-empty text
// body and sender name are discarded (ok=false) — malformed and irrelevant
// frames are expected, not errors.
func decodeChatMessage(data []byte) (Message, bool) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, false
	}
	if env.Event != "message" && env.Event != "new_message" {
		return Message{}, false
	}
	if len(env.Payload) == 0 {
		return Message{}, false
	}

	node := unwrap(env.Payload, "data")
	node = unwrap(node, "message")

	var wm wireMessage
	if err := json.Unmarshal(node, &wm); err != nil {
		return Message{}, false
	}
	if wm.Content == "" || wm.Sender == nil || wm.Sender.Username == "" {
		return Message{}, false
	}

	msg := Message{
		ID:         wm.ID,
		Text:       wm.Content,
		Sender:     wm.Sender.Username,
		ReceivedAt: time.Now().UTC(),
	}
	if msg.ID == "" {
		msg.ID = newRef()
	}
	if wm.Sender.Color != nil {
		msg.Color = *wm.Sender.Color
	}
	if wm.CreatedAt != "" {
		if ts, err := time.Parse(time.RFC3339, wm.CreatedAt); err == nil {
			msg.CreatedAt = ts.UTC()
		}
	}
	return msg, true
}
