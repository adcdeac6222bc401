package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kicklite/kicklite/emotes"
	"github.com/kicklite/kicklite/kickapi"
)

// ChannelResolver turns a channel slug into channel metadata, most importantly
// the numeric id the relay expects in the room topic.
type ChannelResolver interface {
	GetChannel(ctx context.Context, slug string) (*kickapi.Channel, error)
}

// EmoteLoader fetches the merged emote catalog for a channel.
type EmoteLoader interface {
	Reload(ctx context.Context, channelSlug string) (emotes.Catalog, error)
}

// HubConfig wires a Hub. Resolver and RelayURL are required; a nil Emotes
// loader leaves catalogs empty.
type HubConfig struct {
	Resolver          ChannelResolver
	Emotes            EmoteLoader
	RelayURL          string
	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
	Dialer            Dialer
}

// Hub shares one relay session per channel among any number of subscribers.
// The first subscriber to a slug opens the room (resolve, emote reload,
// connect); the last one out closes it.
type Hub struct {
	cfg HubConfig

	mu    sync.Mutex
	rooms map[string]*room
}

type room struct {
	slug string

	once      sync.Once
	initErr   error
	channelID int64
	catalog   emotes.Catalog
	session   *Session

	mu     sync.Mutex
	subs   map[int]chan Message
	nextID int
	// closed is set once the last subscriber leaves; a late subscriber that
	// still holds this room must start over with a fresh one.
	closed bool
}

// Subscription is a live feed of one room's messages. Close releases it; the
// room shuts down when its last subscription closes.
type Subscription struct {
	// Messages delivers decoded messages as they arrive. Slow consumers skip
	// messages rather than stall the room.
	Messages <-chan Message
	// History is the buffered backlog at subscription time, oldest first.
	History []Message
	// Catalog is the emote catalog resolved for this channel.
	Catalog emotes.Catalog

	closeOnce sync.Once
	cancel    func()
}

func (s *Subscription) Close() {
	s.closeOnce.Do(s.cancel)
}

func NewHub(cfg HubConfig) *Hub {
	return &Hub{cfg: cfg, rooms: make(map[string]*room)}
}

// Subscribe joins the room for slug, opening it if necessary. ctx bounds the
// channel resolution and emote fetch; the room itself lives until the last
// subscription closes.
func (h *Hub) Subscribe(ctx context.Context, slug string) (*Subscription, error) {
	if slug == "" {
		return nil, fmt.Errorf("slug empty")
	}

	for {
		h.mu.Lock()
		r, ok := h.rooms[slug]
		if !ok {
			r = &room{slug: slug, subs: make(map[int]chan Message)}
			h.rooms[slug] = r
		}
		h.mu.Unlock()

		r.once.Do(func() { r.initErr = h.openRoom(ctx, r) })
		if r.initErr != nil {
			h.mu.Lock()
			if h.rooms[slug] == r {
				delete(h.rooms, slug)
			}
			h.mu.Unlock()
			return nil, r.initErr
		}

		ch := make(chan Message, 64)
		r.mu.Lock()
		if r.closed {
			// The last subscriber left while we held this room; its session
			// is shutting down. Start over with a fresh one.
			r.mu.Unlock()
			continue
		}
		id := r.nextID
		r.nextID++
		r.subs[id] = ch
		session, catalog := r.session, r.catalog
		r.mu.Unlock()

		sub := &Subscription{
			Messages: ch,
			History:  session.History().Messages(),
			Catalog:  catalog,
		}
		sub.cancel = func() { h.unsubscribe(r, id, ch) }
		return sub, nil
	}
}

func (h *Hub) openRoom(ctx context.Context, r *room) error {
	ch, err := h.cfg.Resolver.GetChannel(ctx, r.slug)
	if err != nil {
		return fmt.Errorf("resolve channel %s: %w", r.slug, err)
	}
	catalog := emotes.Catalog{}
	if h.cfg.Emotes != nil {
		catalog, err = h.cfg.Emotes.Reload(ctx, r.slug)
		if err != nil {
			// Chat without emotes beats no chat.
			slog.Warn("emote reload failed; rendering text only", slog.String("channel", r.slug), slog.Any("err", err))
			catalog = emotes.Catalog{}
		}
	}

	session := NewSession(SessionConfig{
		RelayURL:          h.cfg.RelayURL,
		ChannelID:         ch.ID,
		OnMessage:         r.broadcast,
		Dialer:            h.cfg.Dialer,
		HeartbeatInterval: h.cfg.HeartbeatInterval,
		ReconnectDelay:    h.cfg.ReconnectDelay,
	})
	// The session outlives the subscriber's request context.
	session.Connect(context.Background())

	r.mu.Lock()
	r.channelID = ch.ID
	r.catalog = catalog
	r.session = session
	r.mu.Unlock()
	return nil
}

func (r *room) broadcast(m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- m:
		default:
		}
	}
}

// unsubscribe removes one subscription. The room-close decision and the map
// removal happen under both locks (h.mu before r.mu) so a concurrent
// Subscribe either lands before the close or sees the closed flag and retries.
func (h *Hub) unsubscribe(r *room, id int, ch chan Message) {
	h.mu.Lock()
	r.mu.Lock()
	delete(r.subs, id)
	empty := len(r.subs) == 0
	session := r.session
	if empty {
		r.closed = true
		if h.rooms[r.slug] == r {
			delete(h.rooms, r.slug)
		}
	}
	r.mu.Unlock()
	h.mu.Unlock()
	close(ch)

	if !empty {
		return
	}
	if session != nil {
		session.Close()
	}
	slog.Info("chat room closed", slog.String("channel", r.slug))
}

// Snapshot returns the backlog, catalog, and connection state of an open room.
// ok is false when no subscriber currently holds the room open.
func (h *Hub) Snapshot(slug string) (msgs []Message, catalog emotes.Catalog, state State, notice string, ok bool) {
	h.mu.Lock()
	r, found := h.rooms[slug]
	h.mu.Unlock()
	if !found {
		return nil, nil, StateError, "", false
	}
	r.mu.Lock()
	session, catalog := r.session, r.catalog
	r.mu.Unlock()
	if session == nil {
		return nil, nil, StateError, "", false
	}
	return session.History().Messages(), catalog, session.State(), session.Notice(), true
}
