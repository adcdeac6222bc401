// Package auth owns the Kick session lifecycle: the proxied authorization
// code flow, encrypted persistence of the token pair, background refresh
// scheduling, and sign-out. The Manager is the single writer of both the
// persisted session and the bearer credential the API client reads.
package auth
