package core

// Registry is the bidirectional mapping between identities and their live
// connections. All access happens on the hub goroutine; no locking needed.
type Registry struct {
	connections map[string]*Client
	identities  map[int64]map[string]*Client
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Client),
		identities:  make(map[int64]map[string]*Client),
	}
}

// Register adds a connection to its identity's connection set.
// Returns true if this is the identity's first live connection.
func (r *Registry) Register(c *Client) bool {
	r.connections[c.ID] = c

	conns := r.identities[c.Identity.ID]
	if conns == nil {
		conns = make(map[string]*Client)
		r.identities[c.Identity.ID] = conns
	}
	first := len(conns) == 0
	conns[c.ID] = c
	return first
}

// Remove deletes a connection. Returns true if the owning identity now has
// zero live connections.
func (r *Registry) Remove(c *Client) bool {
	if _, ok := r.connections[c.ID]; !ok {
		return false
	}
	delete(r.connections, c.ID)

	conns := r.identities[c.Identity.ID]
	delete(conns, c.ID)
	if len(conns) == 0 {
		delete(r.identities, c.Identity.ID)
		return true
	}
	return false
}

// Has reports whether the connection is still tracked.
func (r *Registry) Has(c *Client) bool {
	_, ok := r.connections[c.ID]
	return ok
}

// ConnectionsOf returns the identity's current live connections, possibly empty.
func (r *Registry) ConnectionsOf(identityID int64) []*Client {
	conns := r.identities[identityID]
	if len(conns) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// Snapshot returns the identity snapshot held by any of the identity's live
// connections.
func (r *Registry) Snapshot(identityID int64) (Snapshot, bool) {
	for _, c := range r.identities[identityID] {
		return c.Identity, true
	}
	return Snapshot{}, false
}

// UpdateSnapshots replaces the cached snapshot on every live connection of
// the identity. Used on explicit status-update events.
func (r *Registry) UpdateSnapshots(identityID int64, snap Snapshot) {
	for _, c := range r.identities[identityID] {
		c.Identity = snap
	}
}
