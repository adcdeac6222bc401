// Package chat contains the live chat client for the Kick relay.
//
// It provides:
//   - Session: one realtime websocket connection to the relay for a channel's
//     chat room. It joins the room, heartbeats to keep the connection alive,
//     decodes inbound message frames, and reconnects automatically after a
//     fixed delay when the socket errors or closes unexpectedly.
//   - History: a bounded, append-only message buffer that drops the oldest
//     entries on overflow so long-lived sessions hold a fixed amount of
//     memory.
//   - Tokenize: splits a raw message into text and emote render tokens using
//     an emote catalog snapshot, preserving the original whitespace.
//   - Hub: shares one Session per channel among any number of subscribers.
//     The first subscriber opens the room (channel resolution, emote reload,
//     connect) and the last one out closes it.
//   - StartSupervisor: an optional background watcher that polls a channel's
//     live status and holds its room open while the stream is up.
//
// Relay failures never propagate as errors to consumers; they surface as a
// connection state plus a short human-readable notice while the session keeps
// retrying in the background.
package chat
