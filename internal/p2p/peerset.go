// Package p2p implements the HTTP-based gossip layer: the peer registry
// and the client used to broadcast blocks and sync chains.
package p2p

import "sync"

// PeerSet is the registry of known peer base URLs.
type PeerSet struct {
	mu    sync.Mutex
	peers map[string]bool
}

// NewPeerSet returns an empty peer set.
func NewPeerSet() *PeerSet {
	return &PeerSet{peers: make(map[string]bool)}
}

// Register adds one or more peer URLs, ignoring self and duplicates.
func (s *PeerSet) Register(selfURL string, urls ...string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var added []string
	for _, u := range urls {
		if u == "" || u == selfURL || s.peers[u] {
			continue
		}
		s.peers[u] = true
		added = append(added, u)
	}
	return added
}

// Deregister removes one or more peer URLs. Deregistration is local only:
// it does not notify the removed peer or any other node.
func (s *PeerSet) Deregister(urls ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range urls {
		delete(s.peers, u)
	}
}

// List returns every known peer URL.
func (s *PeerSet) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.peers))
	for u := range s.peers {
		out = append(out, u)
	}
	return out
}

// Has reports whether url is a known peer.
func (s *PeerSet) Has(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peers[url]
}
