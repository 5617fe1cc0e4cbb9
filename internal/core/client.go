package core

import (
	"github.com/oklog/ulid/v2"

	"github.com/roomcast/roomcast-server/internal/store"
)

// Attachment records which conversation a connection currently participates in.
type Attachment struct {
	ConversationID int64
	Kind           store.Kind
}

// Client is one live transport session for an identity. An identity may own
// several clients concurrently (multi-device). The attachment field is owned
// by the hub goroutine; transports only touch the channels and the ID.
type Client struct {
	ID       string
	Identity Snapshot
	Commands chan *Command
	Events   chan *Event

	attachment *Attachment
	done       chan struct{}
}

// NewClient constructs a client with initialized channels.
func NewClient(identity Snapshot) *Client {
	return &Client{
		ID:       ulid.Make().String(),
		Identity: identity,
		Commands: make(chan *Command, 16),
		Events:   make(chan *Event, 32),
		done:     make(chan struct{}),
	}
}

// Attached returns the current conversation attachment, if any.
func (c *Client) Attached() (Attachment, bool) {
	if c.attachment == nil {
		return Attachment{}, false
	}
	return *c.attachment, true
}

// Done is closed by the hub when the client has been unregistered.
func (c *Client) Done() <-chan struct{} {
	return c.done
}
