package kickapi

import "sync"

// CredentialProvider supplies the bearer token attached to outbound API
// calls. Implementations must be safe for concurrent use.
type CredentialProvider interface {
	Token() string
}

// BearerCredential is a thread-safe token holder. The auth manager owns the
// single writer; the API client only reads. An empty token means anonymous.
type BearerCredential struct {
	mu  sync.RWMutex
	tok string
}

func (b *BearerCredential) Token() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tok
}

// Set replaces the current token. Pass "" to drop the credential on sign-out.
func (b *BearerCredential) Set(tok string) {
	b.mu.Lock()
	b.tok = tok
	b.mu.Unlock()
}
