// Package peer maintains the set of known peer nodes and their health.
package peer

import (
	"sync"
)

// maxFailures is the number of consecutive failed contacts after which a
// peer is dropped from the set.
const maxFailures = 3

// Peer represents information about a node in the network.
type Peer struct {
	Host string
}

// New constructs a new peer value.
func New(host string) Peer {
	return Peer{
		Host: host,
	}
}

// Match validates if the specified host matches this peer.
func (p Peer) Match(host string) bool {
	return p.Host == host
}

// =============================================================================

// Status represents information about the state of any given peer.
type Status struct {
	LatestBlockHash   string `json:"latest_block_hash"`
	LatestBlockNumber uint64 `json:"latest_block_number"`
	KnownPeers        []Peer `json:"known_peers"`
}

// =============================================================================

// Set maintains the known peers along with a count of consecutive
// contact failures per peer.
type Set struct {
	mu  sync.RWMutex
	set map[Peer]int
}

// NewSet constructs a new set to manage node peer information.
func NewSet() *Set {
	return &Set{
		set: make(map[Peer]int),
	}
}

// Add adds a new peer to the set. It reports whether the peer was not
// already known.
func (ps *Set) Add(peer Peer) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, exists := ps.set[peer]; !exists {
		ps.set[peer] = 0
		return true
	}

	return false
}

// Remove removes a peer from the set.
func (ps *Set) Remove(peer Peer) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	delete(ps.set, peer)
}

// Confirm resets the failure count for a peer after a successful contact.
func (ps *Set) Confirm(peer Peer) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, exists := ps.set[peer]; exists {
		ps.set[peer] = 0
	}
}

// Fail records a failed contact with a peer. Once the failures reach the
// limit the peer is dropped and Fail reports true.
func (ps *Set) Fail(peer Peer) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	failures, exists := ps.set[peer]
	if !exists {
		return false
	}

	failures++
	if failures >= maxFailures {
		delete(ps.set, peer)
		return true
	}

	ps.set[peer] = failures
	return false
}

// Copy returns a list of the known peers, excluding the specified host.
func (ps *Set) Copy(host string) []Peer {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var peers []Peer
	for peer := range ps.set {
		if !peer.Match(host) {
			peers = append(peers, peer)
		}
	}

	return peers
}
