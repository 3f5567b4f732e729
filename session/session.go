// Package session implements the quicconn.Session collaborator: the
// server-name-scoped slice of a registration that a Connection consults
// for 0-RTT token caching and unregisters itself from at Free (spec.md
// §6 Session, §4.12 "NEW_TOKEN session-cache seam").
package session

import (
	"sync"

	"github.com/hashicorp/golang-lru"

	"github.com/kryptco/quicconn"
)

// Session is keyed by server name; CacheToken is deliberately a no-op
// per spec.md §1 Non-goals ("0-RTT resumption persistence") and §9 open
// question ("NEW_TOKEN... future work is to hand it to a session
// cache") — the seam is wired, the persistence is not implemented.
type Session struct {
	serverName string

	mu    sync.Mutex
	cache *lru.Cache // present so the seam is real, even though CacheToken doesn't populate it yet

	unregister func(*quicconn.Connection)
}

// New returns a Session scoped to serverName. unregister is called
// exactly once, from Unregister, to let the owning registry drop its
// reference to the connection (spec.md Lifecycle "Free").
func New(serverName string, maxEntries int, unregister func(*quicconn.Connection)) (*Session, error) {
	c, err := lru.New(maxEntries)
	if err != nil {
		return nil, err
	}
	return &Session{
		serverName: serverName,
		cache:      c,
		unregister: unregister,
	}, nil
}

func (s *Session) ServerName() string { return s.serverName }

// CacheToken is the wired-but-inert seam spec.md §4.12 calls for: the
// NEW_TOKEN frame is decoded upstream but token persistence remains out
// of scope, so nothing is written to s.cache yet.
func (s *Session) CacheToken(serverName string, token []byte) {}

func (s *Session) Unregister(c *quicconn.Connection) {
	if s.unregister != nil {
		s.unregister(c)
	}
}
