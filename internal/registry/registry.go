// Package registry implements the Client Registry and Server: the
// rendezvous listening socket, the AID-to-client map, the currently
// selected client, and the framed I/O contract the Emulation Engine
// drives through Transceive/PowerUp/PowerDown.
package registry

import (
	"errors"
	"net"

	lru "github.com/hashicorp/golang-lru"
	uuid "github.com/satori/go.uuid"

	"edna.io/edna/internal/aid"
)

// ErrAIDExists is returned (and mirrored on the wire as AID_EXISTS) when
// a client attempts to register an AID that is already bound.
var ErrAIDExists = errors.New("registry: AID already registered")

// errClientClosed is returned internally when a client's connection is
// torn down (I/O failure, DISCONNECT, or shutdown) while something was
// waiting on its reply.
var errClientClosed = errors.New("registry: client connection closed")

// traceDepth bounds the per-client round-trip trace kept purely for
// introspection; it has no role in dispatch correctness.
const traceDepth = 64

// Client represents one registered connection: the wire socket, the AID
// it owns (immutable after registration), and a liveness flag. A Client
// is owned exclusively by the Registry; nothing else closes its socket.
type Client struct {
	conn  net.Conn
	aid   aid.AID
	id    uuid.UUID
	trace *lru.Cache // recent (capdu, rapdu) pairs, keyed by a monotonic counter

	alive bool
	seq   int

	// incoming carries each frame the client's readLoop decodes that
	// isn't consumed internally (i.e. everything but DISCONNECT) to
	// whichever of Transceive/PowerUp/PowerDown is currently awaiting
	// this client's reply. readLoop is the sole reader of c.conn, so
	// nothing else ever calls Read on it directly — that would race.
	incoming chan []byte
	closed   chan struct{}
}

// AID returns the AID this client registered.
func (c *Client) AID() aid.AID { return c.aid }

// ID returns the client's per-connection correlation id, used only in
// log lines.
func (c *Client) ID() uuid.UUID { return c.id }

func newClient(conn net.Conn, a aid.AID) *Client {
	trace, _ := lru.New(traceDepth)
	return &Client{
		conn:     conn,
		aid:      a,
		id:       uuid.NewV4(),
		trace:    trace,
		alive:    true,
		incoming: make(chan []byte),
		closed:   make(chan struct{}),
	}
}

func (c *Client) recordTrace(capdu, rapdu []byte) {
	c.seq++
	c.trace.Add(c.seq, [2][]byte{capdu, rapdu})
}

// Registry maps AID to Client with the invariant that AIDs are unique,
// plus an optional reference to the currently selected client. All
// mutation and dispatch goes through the single mutex embedded in
// Server, which also serialises APDU round trips per spec: the reader
// drives one C-APDU at a time, so holding the lock across a full
// request/response exchange is not a throughput concession, it is the
// correct model of the protocol.
type Registry struct {
	clients  map[string]*Client // keyed by string(aid)
	selected *Client
}

func newRegistry() *Registry {
	return &Registry{clients: map[string]*Client{}}
}

// register inserts a new client for a, or returns ErrAIDExists if a is
// already bound. Caller must hold the registry's lock.
func (r *Registry) register(conn net.Conn, a aid.AID) (*Client, error) {
	key := string(a)
	if _, exists := r.clients[key]; exists {
		return nil, ErrAIDExists
	}
	c := newClient(conn, a)
	r.clients[key] = c
	return c, nil
}

// lookup returns the client registered for a, if any. Caller must hold
// the registry's lock.
func (r *Registry) lookup(a aid.AID) (*Client, bool) {
	c, ok := r.clients[string(a)]
	return c, ok
}

// remove tears down c: closes its socket, deletes it from the map, and
// clears the selection if c was selected. Caller must hold the
// registry's lock.
func (r *Registry) remove(c *Client) {
	if !c.alive {
		return
	}
	c.alive = false
	c.conn.Close()
	close(c.closed)
	delete(r.clients, string(c.aid))
	if r.selected == c {
		r.selected = nil
	}
}

// RecentTrace returns the most recent (capdu, rapdu) pairs observed for
// the client registered under a, newest first. It exists purely for
// tests and optional debug logging; dispatch never reads it.
func (r *Registry) RecentTrace(a aid.AID) [][2][]byte {
	c, ok := r.lookup(a)
	if !ok {
		return nil
	}
	keys := c.trace.Keys()
	out := make([][2][]byte, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		if v, ok := c.trace.Get(keys[i]); ok {
			out = append(out, v.([2][]byte))
		}
	}
	return out
}
