package realtime

import (
	"hash/fnv"
	"sync"

	"github.com/gorilla/websocket"
)

const shardCount = 32

// Registry tracks live connections keyed by participant id. State is split
// across fixed shards so registration and lookup on different participants
// never contend on a single lock.
type Registry struct {
	shards [shardCount]registryShard
}

type registryShard struct {
	mu    sync.RWMutex
	conns map[string]map[*Connection]struct{} // participantID -> set of connections
}

// NewRegistry constructs an initialized Registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].conns = make(map[string]map[*Connection]struct{})
	}
	return r
}

func (r *Registry) shardFor(participantID string) *registryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(participantID))
	return &r.shards[h.Sum32()%shardCount]
}

// Register tracks the connection and starts its write loop.
func (r *Registry) Register(conn *Connection) {
	s := r.shardFor(conn.ParticipantID)
	s.mu.Lock()
	set := s.conns[conn.ParticipantID]
	if set == nil {
		set = make(map[*Connection]struct{})
		s.conns[conn.ParticipantID] = set
	}
	set[conn] = struct{}{}
	s.mu.Unlock()

	conn.Start()
}

// Unregister stops tracking the connection. The connection itself is left for
// the caller to close; unregistering twice is harmless.
func (r *Registry) Unregister(conn *Connection) {
	s := r.shardFor(conn.ParticipantID)
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.conns[conn.ParticipantID]
	if !ok {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(s.conns, conn.ParticipantID)
	}
}

// ConnectionsFor returns a snapshot of the participant's live connections.
// An empty slice is the normal case for an offline participant.
func (r *Registry) ConnectionsFor(participantID string) []*Connection {
	s := r.shardFor(participantID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.conns[participantID]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Connection, 0, len(set))
	for conn := range set {
		out = append(out, conn)
	}
	return out
}

// Deliver enqueues payload on every live connection of the participant and
// returns how many accepted it. Full buffers and closed connections are
// skipped, never waited on.
func (r *Registry) Deliver(participantID string, payload []byte) int {
	delivered := 0
	for _, conn := range r.ConnectionsFor(participantID) {
		if conn.Enqueue(payload) {
			delivered++
		}
	}
	return delivered
}

// Len returns the total number of tracked connections across all shards.
func (r *Registry) Len() int {
	total := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for _, set := range s.conns {
			total += len(set)
		}
		s.mu.RUnlock()
	}
	return total
}

// Shutdown closes every tracked connection and clears the registry.
func (r *Registry) Shutdown() {
	var conns []*Connection
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		for _, set := range s.conns {
			for conn := range set {
				conns = append(conns, conn)
			}
		}
		s.conns = make(map[string]map[*Connection]struct{})
		s.mu.Unlock()
	}

	for _, conn := range conns {
		conn.Close(websocket.CloseGoingAway, "server shutdown")
	}
}
