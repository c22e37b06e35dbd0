package gateway

import (
	"fmt"
	"sync"

	"vaultline/internal/domain"
	"vaultline/internal/metrics"
)

type verifiedEntry struct {
	peer   domain.Peer
	userID domain.UserID
}

// Directory tracks live connections. Pending connections have completed the
// key exchange but not yet presented a session token. Verified connections
// are addressable by user id. A user may hold several verified connections;
// the most recently verified one that is still open receives deliveries.
type Directory struct {
	mu       sync.RWMutex
	pending  map[domain.ConnectionID]domain.Peer
	verified map[domain.ConnectionID]verifiedEntry
	// byUser lists verified connections per user, oldest first.
	byUser   map[domain.UserID][]domain.Peer
	metrics  *metrics.Metrics
}

// NewDirectory returns an empty Directory. m may be nil.
func NewDirectory(m *metrics.Metrics) *Directory {
	return &Directory{
		pending:  make(map[domain.ConnectionID]domain.Peer),
		verified: make(map[domain.ConnectionID]verifiedEntry),
		byUser:   make(map[domain.UserID][]domain.Peer),
		metrics:  m,
	}
}

// RegisterPending records a connection awaiting verification.
func (d *Directory) RegisterPending(p domain.Peer) {
	d.mu.Lock()
	d.pending[p.ID()] = p
	d.publishLocked()
	d.mu.Unlock()
}

// Promote moves a pending connection to verified under userID. It returns
// the connection previously addressed for userID, if any.
func (d *Directory) Promote(id domain.ConnectionID, userID domain.UserID) (domain.Peer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.pending[id]
	if !ok {
		return nil, fmt.Errorf("gateway: connection %s is not pending", id)
	}
	delete(d.pending, id)
	d.verified[id] = verifiedEntry{peer: p, userID: userID}

	var previous domain.Peer
	if peers := d.byUser[userID]; len(peers) > 0 {
		previous = peers[len(peers)-1]
	}
	d.byUser[userID] = append(d.byUser[userID], p)
	d.publishLocked()
	return previous, nil
}

// Lookup returns the connection currently addressed for userID.
func (d *Directory) Lookup(userID domain.UserID) (domain.Peer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	peers := d.byUser[userID]
	if len(peers) == 0 {
		return nil, false
	}
	return peers[len(peers)-1], true
}

// Peers returns every verified connection of userID, most recent first.
func (d *Directory) Peers(userID domain.UserID) []domain.Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	peers := d.byUser[userID]
	out := make([]domain.Peer, 0, len(peers))
	for i := len(peers) - 1; i >= 0; i-- {
		out = append(out, peers[i])
	}
	return out
}

// LookupConnection returns the user a verified connection belongs to.
func (d *Directory) LookupConnection(id domain.ConnectionID) (domain.UserID, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.verified[id]
	return e.userID, ok
}

// Unregister removes a connection from every map. The user stays
// addressable through any other verified connection they still hold.
func (d *Directory) Unregister(id domain.ConnectionID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.pending, id)
	if e, ok := d.verified[id]; ok {
		delete(d.verified, id)
		d.removeUserPeerLocked(e.userID, id)
	}
	d.publishLocked()
}

func (d *Directory) removeUserPeerLocked(userID domain.UserID, id domain.ConnectionID) {
	peers := d.byUser[userID]
	for i, p := range peers {
		if p.ID() != id {
			continue
		}
		peers = append(peers[:i:i], peers[i+1:]...)
		break
	}
	if len(peers) == 0 {
		delete(d.byUser, userID)
		return
	}
	d.byUser[userID] = peers
}

// Counts returns the number of pending and verified connections.
func (d *Directory) Counts() (pending, verified int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.pending), len(d.verified)
}

func (d *Directory) publishLocked() {
	d.metrics.SetConnections(len(d.pending), len(d.verified))
}
