package chat

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// StartSupervisor polls a channel's live status and keeps a hub room open for
// it while the stream is live, so history and emotes are warm before the first
// viewer attaches. When the stream ends the room is released (and closes once
// no other subscriber holds it).
// Env knobs:
//
//	CHAT_AUTO_POLL_INTERVAL (default 30s)
func StartSupervisor(ctx context.Context, hub *Hub, resolver ChannelResolver, channel string) {
	if channel == "" {
		slog.Info("auto chat: CHAT_AUTO_CHANNEL empty; abort")
		return
	}

	pollEvery := 30 * time.Second
	if v := os.Getenv("CHAT_AUTO_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			pollEvery = d
		}
	}

	var sub *Subscription
	var drainDone chan struct{}

	release := func() {
		if sub == nil {
			return
		}
		sub.Close()
		<-drainDone
		sub = nil
	}
	defer release()

	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()
	slog.Info("auto chat: started poller", slog.String("channel", channel), slog.Duration("interval", pollEvery))
	for {
		if ctx.Err() != nil {
			return
		}
		func() {
			ch, err := resolver.GetChannel(ctx, channel)
			if err != nil {
				slog.Debug("auto chat: channel lookup", slog.Any("err", err))
				return
			}
			live := ch.Livestream != nil && ch.Livestream.IsLive
			if !live {
				if sub != nil {
					slog.Info("auto chat: stream ended; releasing room", slog.String("channel", channel))
					release()
				}
				return
			}
			if sub != nil {
				return
			}
			s, err := hub.Subscribe(ctx, channel)
			if err != nil {
				slog.Warn("auto chat: subscribe failed", slog.Any("err", err))
				return
			}
			sub = s
			drainDone = make(chan struct{})
			slog.Info("auto chat: stream live; watching chat",
				slog.String("channel", channel),
				slog.String("title", ch.Livestream.SessionTitle))
			// Drain the feed; the room's history is the artifact we keep warm.
			go func(s *Subscription, done chan struct{}) {
				defer close(done)
				for range s.Messages {
				}
			}(sub, drainDone)
		}()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
