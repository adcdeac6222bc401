// Package userdata persists per-user preferences in the kv table: the
// followed channel list and chat display preferences. Absent or unreadable
// values fall back to defaults rather than erroring.
package userdata

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"

	"github.com/kicklite/kicklite/db"
)

const (
	followsKey   = "user:follows"
	chatPrefsKey = "user:chat_prefs"
)

// ChatPrefs are the chat display preferences. Emotes default to on.
type ChatPrefs struct {
	EnableEmotes bool `json:"enable_emotes"`
}

func defaultChatPrefs() ChatPrefs {
	return ChatPrefs{EnableEmotes: true}
}

type Store struct {
	DB *sql.DB
}

// Follows returns the followed channel slugs in follow order. An absent or
// malformed stored list reads as empty.
func (s *Store) Follows(ctx context.Context) ([]string, error) {
	raw, ok, err := db.GetKV(ctx, s.DB, followsKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		slog.Warn("stored follow list failed to parse; treating as empty", slog.Any("err", err))
		return nil, nil
	}
	return list, nil
}

// Follow appends a channel to the follow list. Following an already followed
// channel is a no-op.
func (s *Store) Follow(ctx context.Context, slug string) error {
	list, err := s.Follows(ctx)
	if err != nil {
		return err
	}
	for _, f := range list {
		if f == slug {
			return nil
		}
	}
	return s.saveFollows(ctx, append(list, slug))
}

// Unfollow removes a channel from the follow list; unknown channels are a
// no-op.
func (s *Store) Unfollow(ctx context.Context, slug string) error {
	list, err := s.Follows(ctx)
	if err != nil {
		return err
	}
	next := list[:0]
	for _, f := range list {
		if f != slug {
			next = append(next, f)
		}
	}
	if len(next) == len(list) {
		return nil
	}
	return s.saveFollows(ctx, next)
}

// IsFollowing reports whether slug is on the follow list.
func (s *Store) IsFollowing(ctx context.Context, slug string) (bool, error) {
	list, err := s.Follows(ctx)
	if err != nil {
		return false, err
	}
	for _, f := range list {
		if f == slug {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) saveFollows(ctx context.Context, list []string) error {
	raw, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return db.SetKV(ctx, s.DB, followsKey, string(raw))
}

// ChatPrefs returns the stored preferences, falling back to defaults when
// absent or unreadable.
func (s *Store) ChatPrefs(ctx context.Context) (ChatPrefs, error) {
	raw, ok, err := db.GetKV(ctx, s.DB, chatPrefsKey)
	if err != nil {
		return defaultChatPrefs(), err
	}
	if !ok {
		return defaultChatPrefs(), nil
	}
	var p ChatPrefs
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		slog.Warn("stored chat prefs failed to parse; using defaults", slog.Any("err", err))
		return defaultChatPrefs(), nil
	}
	return p, nil
}

func (s *Store) SaveChatPrefs(ctx context.Context, p ChatPrefs) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return db.SetKV(ctx, s.DB, chatPrefsKey, string(raw))
}
