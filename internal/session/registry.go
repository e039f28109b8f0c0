package session

import (
	"errors"
	"sync"

	"github.com/ndemidenko/relaychat-server/internal/utils"
)

// ErrConnNotFound is returned when a registry operation references a
// connection that is not (or no longer) live.
var ErrConnNotFound = errors.New("connection not found")

// outboundBuffer bounds per-connection outbound frames; slow consumers drop.
const outboundBuffer = 16

// Conn is the live half of a connection record: the outbound frame queue the
// transport write loop drains, and a done signal closed exactly once when the
// record is removed from the registry.
type Conn struct {
	id   string
	out  chan []byte
	done chan struct{}

	closeOnce sync.Once
}

// ID returns the connection identifier.
func (c *Conn) ID() string {
	return c.id
}

// Outbound returns the queue of encoded frames to write to the socket.
func (c *Conn) Outbound() <-chan []byte {
	return c.out
}

// Done is closed when the connection record has been removed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// deliver enqueues a frame without blocking. Frames to a closed or slow
// connection are dropped.
func (c *Conn) deliver(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.out <- frame:
		return true
	default:
		return false
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Record is a point-in-time snapshot of one registry entry. The identity is
// the value observed at snapshot time; callers re-fetch after any store call.
type Record struct {
	ID       string
	Identity Identity

	conn *Conn
}

// Deliver sends an encoded frame to the record's connection, best-effort.
func (r Record) Deliver(frame []byte) bool {
	return r.conn.deliver(frame)
}

// Registry is the table of live connections. All mutation goes through Open,
// Update, and Close; reads observe a consistent snapshot under the lock.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*entry
}

type entry struct {
	conn     *Conn
	identity Identity
}

// NewRegistry constructs an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*entry),
	}
}

// Open allocates a fresh connection with a unique identifier and inserts an
// anonymous record for it.
func (r *Registry) Open() *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := utils.NewID()
	for _, exists := r.conns[id]; exists; _, exists = r.conns[id] {
		id = utils.NewID()
	}

	conn := &Conn{
		id:   id,
		out:  make(chan []byte, outboundBuffer),
		done: make(chan struct{}),
	}
	r.conns[id] = &entry{conn: conn, identity: Anonymous}
	return conn
}

// Get returns a snapshot of the record for id.
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[id]
	if !ok {
		return Record{}, false
	}
	return Record{ID: id, Identity: e.identity, conn: e.conn}, true
}

// Update atomically replaces the identity of the record for id. Updating a
// record that has already been closed is a no-op: the connection is gone and
// must not be resurrected.
func (r *Registry) Update(id string, identity Identity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok {
		return false
	}
	e.identity = identity
	return true
}

// Close removes the record for id and signals its connection. Returns the
// removed snapshot, or ErrConnNotFound for a double close (socket teardown
// can race; callers log and ignore).
func (r *Registry) Close(id string) (Record, error) {
	r.mu.Lock()
	e, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	r.mu.Unlock()

	if !ok {
		return Record{}, ErrConnNotFound
	}

	e.conn.close()
	return Record{ID: id, Identity: e.identity, conn: e.conn}, nil
}

// Filter returns snapshots of all records matching the predicate, evaluated
// over the table state at one point in time.
func (r *Registry) Filter(pred func(Record) bool) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []Record
	for id, e := range r.conns {
		rec := Record{ID: id, Identity: e.identity, conn: e.conn}
		if pred(rec) {
			matched = append(matched, rec)
		}
	}
	return matched
}

// CountForUser returns how many live connections belong to the user.
func (r *Registry) CountForUser(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, e := range r.conns {
		if id, ok := e.identity.UserID(); ok && id == userID {
			count++
		}
	}
	return count
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
