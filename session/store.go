package session

import (
	"sync/atomic"

	"golang.org/x/oauth2"
)

// Credential is one installed bearer credential.
type Credential struct {
	Token *oauth2.Token
	// Generation increases by one for every credential installed in a Store.
	Generation uint64
}

// AccessToken returns the raw bearer value, or "" for a nil credential.
func (c *Credential) AccessToken() string {
	if c == nil || c.Token == nil {
		return ""
	}
	return c.Token.AccessToken
}

func (c *Credential) generation() uint64 {
	if c == nil {
		return 0
	}
	return c.Generation
}

// Store holds the current bearer credential in process memory only.
//
// Reads are safe from any goroutine. Writes happen exclusively inside the
// Coordinator's critical section, which is why set and clear are unexported.
type Store struct {
	cur  atomic.Pointer[Credential]
	next uint64 // guarded by the Coordinator mutex
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Get returns the current credential or nil.
func (s *Store) Get() *Credential {
	return s.cur.Load()
}

func (s *Store) set(tok *oauth2.Token) *Credential {
	s.next++
	c := &Credential{Token: tok, Generation: s.next}
	s.cur.Store(c)
	return c
}

func (s *Store) clear() {
	s.cur.Store(nil)
}
