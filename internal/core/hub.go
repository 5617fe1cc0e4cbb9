package core

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/roomcast/roomcast-server/internal/store"
)

const (
	defaultHistoryLimit  = 50
	defaultMaxMessageLen = 2000
	defaultOpTimeout     = 5 * time.Second
)

var conversationNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)

// HubConfig carries the hub's tunables. Zero values select defaults.
type HubConfig struct {
	// HistoryLimit is the number of recent messages delivered on join.
	HistoryLimit int
	// MaxMessageLen is the maximum accepted message length in runes,
	// counted after trimming.
	MaxMessageLen int
	// OpTimeout bounds each persistence call issued by the hub.
	OpTimeout time.Duration
}

type inbound struct {
	client *Client
	cmd    *Command
}

// Hub coordinates sessions, membership, message routing and presence fan-out.
// All shared state (registry, tracker) is owned by the single Run goroutine;
// clients and transports interact with it exclusively through channels, which
// also gives per-conversation ordering of attach/detach/broadcast sequences.
type Hub struct {
	store    store.Store
	resolver *DirectResolver
	log      zerolog.Logger

	registry *Registry
	tracker  *Tracker

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound

	historyLimit  int
	maxMessageLen int
	opTimeout     time.Duration
}

// NewHub creates a hub on top of the persistence collaborator.
func NewHub(st store.Store, logger *zerolog.Logger, cfg HubConfig) *Hub {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.MaxMessageLen <= 0 {
		cfg.MaxMessageLen = defaultMaxMessageLen
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaultOpTimeout
	}
	lg := zerolog.Nop()
	if logger != nil {
		lg = *logger
	}
	return &Hub{
		store:         st,
		resolver:      NewDirectResolver(st),
		log:           lg,
		registry:      NewRegistry(),
		tracker:       NewTracker(),
		register:      make(chan *Client, 8),
		unregister:    make(chan *Client, 8),
		inbound:       make(chan inbound, 64),
		historyLimit:  cfg.HistoryLimit,
		maxMessageLen: cfg.MaxMessageLen,
		opTimeout:     cfg.OpTimeout,
	}
}

// RegisterClient hands a freshly handshaken connection to the hub.
func (h *Hub) RegisterClient(c *Client) {
	h.register <- c
}

// UnregisterClient starts the disconnect cleanup sequence for a connection.
// Safe to call more than once; later calls are ignored.
func (h *Hub) UnregisterClient(c *Client) {
	h.unregister <- c
}

// Run processes hub events until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case c := <-h.register:
			h.handleRegister(ctx, c)
		case c := <-h.unregister:
			h.handleUnregister(ctx, c)
		case in := <-h.inbound:
			h.dispatch(ctx, in.client, in.cmd)
		case <-ctx.Done():
			return
		}
	}
}

// pump forwards a client's decoded commands into the hub's inbound channel.
func (h *Hub) pump(ctx context.Context, c *Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case cmd := <-c.Commands:
			select {
			case h.inbound <- inbound{client: c, cmd: cmd}:
			case <-ctx.Done():
				return
			case <-c.done:
				return
			}
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, c *Client, cmd *Command) {
	if !h.registry.Has(c) {
		// Command raced with disconnect cleanup.
		return
	}
	switch cmd.Kind {
	case CommandJoin:
		h.handleJoin(ctx, c, cmd)
	case CommandInitiateDirect:
		h.handleInitiateDirect(ctx, c, cmd)
	case CommandLeave:
		h.leave(c)
	case CommandSendMessage:
		h.handleSend(ctx, c, cmd)
	case CommandTyping:
		h.handleTyping(c, cmd)
	case CommandSetStatus:
		h.handleSetStatus(ctx, c, cmd)
	default:
		h.sendError(c, ErrCodeInvalidRequest, "unknown command")
	}
}

// ==== connection lifecycle ====

func (h *Hub) handleRegister(ctx context.Context, c *Client) {
	// A later connection of an already-online identity adopts the snapshot
	// the earlier connections carry, so status updates stay consistent.
	if snap, ok := h.registry.Snapshot(c.Identity.ID); ok {
		c.Identity = snap
	}

	first := h.registry.Register(c)
	go h.pump(ctx, c)

	if !first {
		return
	}

	now := time.Now().UTC()
	c.Identity.Status = store.StatusOnline
	c.Identity.LastSeen = now
	h.registry.UpdateSnapshots(c.Identity.ID, c.Identity)

	if err := h.updateStatus(ctx, c.Identity.ID, store.StatusOnline, c.Identity.StatusMessage, now); err != nil {
		h.log.Warn().Err(err).Int64("identity_id", c.Identity.ID).Msg("persist online status")
	}
	h.broadcastPresence(c.Identity.ID, c.Identity)

	h.log.Debug().Int64("identity_id", c.Identity.ID).Str("connection_id", c.ID).Msg("identity online")
}

func (h *Hub) handleUnregister(ctx context.Context, c *Client) {
	if !h.registry.Has(c) {
		return
	}

	// Presence targets must be computed while the identity is still a member
	// of its conversations; the detach below erases that information.
	conns := h.registry.ConnectionsOf(c.Identity.ID)
	lastConnection := len(conns) == 1
	var presenceTargets []int64
	if lastConnection {
		presenceTargets = h.presenceTargets(c.Identity.ID)
	}

	h.leave(c)
	last := h.registry.Remove(c)
	close(c.done)
	close(c.Events)

	if !last {
		return
	}

	// Best effort: in-memory cleanup already happened, a persistence failure
	// here must not leave stale membership behind.
	now := time.Now().UTC()
	snap := c.Identity
	snap.Status = store.StatusOffline
	snap.LastSeen = now
	if err := h.updateStatus(ctx, c.Identity.ID, store.StatusOffline, snap.StatusMessage, now); err != nil {
		h.log.Warn().Err(err).Int64("identity_id", c.Identity.ID).Msg("persist offline status")
	}

	ev := &Event{Kind: EventPresence, User: snap}
	for _, id := range presenceTargets {
		h.deliverToIdentity(id, ev)
	}

	h.log.Debug().Int64("identity_id", c.Identity.ID).Str("connection_id", c.ID).Msg("identity offline")
}

// ==== join/leave coordinator ====

func (h *Hub) handleJoin(ctx context.Context, c *Client, cmd *Command) {
	switch cmd.ConversationKind {
	case store.KindPublic:
		h.joinPublic(ctx, c, cmd.ConversationName)
	case store.KindPrivate, store.KindDirect:
		h.joinByID(ctx, c, cmd.ConversationID)
	default:
		h.sendError(c, ErrCodeInvalidRequest, "unknown conversation kind")
	}
}

func (h *Hub) joinPublic(ctx context.Context, c *Client, requested string) {
	name := strings.ToLower(strings.TrimSpace(requested))
	if !conversationNamePattern.MatchString(name) {
		h.sendError(c, ErrCodeInvalidRequest, "malformed conversation name")
		return
	}

	wasCreated := false
	conv, err := h.getConversationByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		conv, err = h.createConversation(ctx, name, requested)
		wasCreated = err == nil
		if errors.Is(err, store.ErrConflict) {
			// Another connection created it between lookup and insert.
			conv, err = h.getConversationByName(ctx, name)
		}
	}
	if err != nil {
		h.log.Error().Err(err).Str("conversation", name).Msg("resolve public conversation")
		h.sendError(c, ErrCodeUnavailable, "conversation is unavailable")
		return
	}

	h.completeAttach(ctx, c, conv, wasCreated)
}

func (h *Hub) joinByID(ctx context.Context, c *Client, id int64) {
	conv, err := h.getConversationByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		h.sendError(c, ErrCodeNotFound, "conversation not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Int64("conversation_id", id).Msg("lookup conversation")
		h.sendError(c, ErrCodeUnavailable, "conversation is unavailable")
		return
	}
	if conv.Kind == store.KindPublic {
		// Public conversations are addressed by name.
		h.sendError(c, ErrCodeInvalidRequest, "public conversations are joined by name")
		return
	}

	participants, err := h.conversationParticipants(ctx, conv.ID)
	if err != nil {
		h.log.Error().Err(err).Int64("conversation_id", id).Msg("load participants")
		h.sendError(c, ErrCodeUnavailable, "conversation is unavailable")
		return
	}
	member := false
	for _, p := range participants {
		if p == c.Identity.ID {
			member = true
			break
		}
	}
	if !member {
		h.sendError(c, ErrCodeForbidden, "not a participant of this conversation")
		return
	}

	h.completeAttach(ctx, c, conv, false)
}

func (h *Hub) handleInitiateDirect(ctx context.Context, c *Client, cmd *Command) {
	// The target must exist before a conversation is created for the pair.
	if _, err := h.getIdentityByID(ctx, cmd.TargetIdentityID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.sendError(c, ErrCodeNotFound, "target identity not found")
			return
		}
		h.log.Error().Err(err).Int64("target_id", cmd.TargetIdentityID).Msg("lookup target identity")
		h.sendError(c, ErrCodeUnavailable, "conversation is unavailable")
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, h.opTimeout)
	conv, wasCreated, err := h.resolver.FindOrCreate(opCtx, c.Identity.ID, cmd.TargetIdentityID)
	cancel()
	switch {
	case errors.Is(err, ErrInvalidPair):
		h.sendError(c, ErrCodeInvalidRequest, "cannot open a direct conversation with yourself")
		return
	case errors.Is(err, ErrInconsistentState):
		h.log.Error().Err(err).
			Int64("identity_id", c.Identity.ID).
			Int64("target_id", cmd.TargetIdentityID).
			Msg("direct conversation resolver invariant violated")
		h.sendError(c, ErrCodeInconsistentState, "direct conversation could not be resolved")
		return
	case err != nil:
		h.log.Error().Err(err).Int64("target_id", cmd.TargetIdentityID).Msg("resolve direct conversation")
		h.sendError(c, ErrCodeUnavailable, "conversation is unavailable")
		return
	}

	h.completeAttach(ctx, c, conv, wasCreated)
}

// completeAttach runs the attach sequence for a resolved conversation:
// leave the previous one, load history, record the attachment, update the
// tracker, broadcast membership and presence for public conversations, and
// deliver the joined payload to the requesting connection.
func (h *Hub) completeAttach(ctx context.Context, c *Client, conv *store.Conversation, wasCreated bool) {
	// History is read before any state mutation so that a store failure
	// leaves the current attachment untouched and the client can retry.
	recent, err := h.recentMessages(ctx, conv.ID)
	if err != nil {
		h.log.Error().Err(err).Int64("conversation_id", conv.ID).Msg("load recent messages")
		h.sendError(c, ErrCodeUnavailable, "conversation is unavailable")
		return
	}

	h.leave(c)

	c.attachment = &Attachment{ConversationID: conv.ID, Kind: conv.Kind}
	h.tracker.Attach(conv, c.Identity.ID)

	var members []Snapshot
	if conv.Kind == store.KindPublic {
		members = h.memberSnapshots(conv.ID)

		memberEv := &Event{
			Kind:             EventMemberList,
			ConversationID:   conv.ID,
			ConversationKind: conv.Kind,
			Members:          members,
		}
		h.broadcastToConversation(conv.ID, memberEv, c)

		presenceEv := &Event{Kind: EventPresence, User: c.Identity}
		h.broadcastToOtherMembers(conv.ID, c.Identity.ID, presenceEv)
	}

	h.send(c, &Event{
		Kind:             EventJoined,
		ConversationID:   conv.ID,
		ConversationKind: conv.Kind,
		Conversation:     conv,
		WasCreated:       wasCreated,
		Recent:           recent,
		Members:          members,
	})
}

// leave runs the detach sequence for the connection's current attachment:
// tracker detach, member-list broadcast for non-empty public conversations,
// stopped-typing relay, and clearing the attachment.
func (h *Hub) leave(c *Client) {
	if c.attachment == nil {
		return
	}
	att := *c.attachment

	h.tracker.Detach(att.ConversationID, c.Identity.ID)

	if att.Kind == store.KindPublic {
		if members := h.memberSnapshots(att.ConversationID); len(members) > 0 {
			h.broadcastToConversation(att.ConversationID, &Event{
				Kind:             EventMemberList,
				ConversationID:   att.ConversationID,
				ConversationKind: att.Kind,
				Members:          members,
			}, c)
		}
	}

	h.broadcastToConversation(att.ConversationID, &Event{
		Kind:             EventTyping,
		ConversationID:   att.ConversationID,
		ConversationKind: att.Kind,
		User:             c.Identity,
		Typing:           false,
	}, c)

	c.attachment = nil
}

// ==== message router ====

func (h *Hub) handleSend(ctx context.Context, c *Client, cmd *Command) {
	att, ok := c.Attached()
	if !ok || att.ConversationID != cmd.ConversationID {
		// A mismatch signals a stale client view; nothing is persisted.
		h.sendError(c, ErrCodeInvalidRequest, "not attached to this conversation")
		return
	}

	text := strings.TrimSpace(cmd.Text)
	if text == "" {
		h.sendError(c, ErrCodeInvalidRequest, "message is empty")
		return
	}
	if utf8.RuneCountInString(text) > h.maxMessageLen {
		h.sendError(c, ErrCodeInvalidRequest, "message is too long")
		return
	}

	msg := &store.Message{
		ConversationID: att.ConversationID,
		SenderID:       c.Identity.ID,
		Body:           text,
		CreatedAt:      time.Now().UTC(),
	}
	if err := h.saveMessage(ctx, msg); err != nil {
		h.log.Error().Err(err).Int64("conversation_id", att.ConversationID).Msg("persist message")
		h.sendError(c, ErrCodeUnavailable, "message could not be delivered")
		return
	}

	if err := h.touchActivity(ctx, att.ConversationID, msg.CreatedAt); err != nil {
		// Recency is advisory; the accepted message still fans out.
		h.log.Warn().Err(err).Int64("conversation_id", att.ConversationID).Msg("touch conversation activity")
	}

	h.broadcastToConversation(att.ConversationID, &Event{
		Kind:             EventMessage,
		ConversationID:   att.ConversationID,
		ConversationKind: att.Kind,
		Message:          msg,
		Sender:           c.Identity,
	}, nil)

	if att.Kind == store.KindDirect {
		h.pushDirectSummaries(ctx, att.ConversationID, c.Identity.ID, msg.CreatedAt)
	}
}

// pushDirectSummaries refreshes the direct-conversation list entry on every
// live connection of both participants, marking unread for the recipient only.
func (h *Hub) pushDirectSummaries(ctx context.Context, conversationID, senderID int64, lastActivity time.Time) {
	participants, err := h.conversationParticipants(ctx, conversationID)
	if err != nil {
		h.log.Warn().Err(err).Int64("conversation_id", conversationID).Msg("load direct participants")
		return
	}

	for _, p := range participants {
		var otherID int64
		for _, q := range participants {
			if q != p {
				otherID = q
			}
		}
		other := h.snapshotOf(ctx, otherID)
		h.deliverToIdentity(p, &Event{
			Kind:             EventDirectSummary,
			ConversationID:   conversationID,
			ConversationKind: store.KindDirect,
			Other:            other,
			LastActivity:     lastActivity,
			Unread:           p != senderID,
		})
	}
}

// ==== typing relay ====

func (h *Hub) handleTyping(c *Client, cmd *Command) {
	att, ok := c.Attached()
	if !ok || att.ConversationID != cmd.ConversationID {
		h.sendError(c, ErrCodeInvalidRequest, "not attached to this conversation")
		return
	}

	h.broadcastToConversation(att.ConversationID, &Event{
		Kind:             EventTyping,
		ConversationID:   att.ConversationID,
		ConversationKind: att.Kind,
		User:             c.Identity,
		Typing:           cmd.Typing,
	}, c)
}

// ==== presence broadcaster ====

func (h *Hub) handleSetStatus(ctx context.Context, c *Client, cmd *Command) {
	if !store.ValidStatus(cmd.Status) || cmd.Status == store.StatusOffline {
		// Offline is reserved for the last-disconnect transition.
		h.sendError(c, ErrCodeInvalidRequest, "invalid status")
		return
	}

	now := time.Now().UTC()
	if err := h.updateStatus(ctx, c.Identity.ID, cmd.Status, cmd.StatusMessage, now); err != nil {
		h.log.Error().Err(err).Int64("identity_id", c.Identity.ID).Msg("persist status update")
		h.sendError(c, ErrCodeUnavailable, "status could not be updated")
		return
	}

	snap := c.Identity
	snap.Status = cmd.Status
	snap.StatusMessage = cmd.StatusMessage
	snap.LastSeen = now
	h.registry.UpdateSnapshots(c.Identity.ID, snap)

	h.broadcastPresence(c.Identity.ID, snap)
}

// presenceTargets returns the identities sharing at least one active
// conversation with the given identity, excluding the identity itself.
func (h *Hub) presenceTargets(identityID int64) []int64 {
	seen := make(map[int64]struct{})
	for _, convID := range h.tracker.SharedConversationsOf(identityID) {
		for _, member := range h.tracker.MembersOf(convID) {
			if member != identityID {
				seen[member] = struct{}{}
			}
		}
	}
	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

// broadcastPresence delivers the status payload to every live connection of
// every identity sharing an active conversation with the subject.
func (h *Hub) broadcastPresence(identityID int64, snap Snapshot) {
	ev := &Event{Kind: EventPresence, User: snap}
	for _, id := range h.presenceTargets(identityID) {
		h.deliverToIdentity(id, ev)
	}
}

// ==== delivery helpers ====

// send enqueues an event for one connection, dropping it if the consumer is
// too slow to keep the hub loop from blocking.
func (h *Hub) send(c *Client, ev *Event) {
	select {
	case <-c.done:
	case c.Events <- ev:
	default:
		h.log.Warn().Str("connection_id", c.ID).Msg("dropping event for slow consumer")
	}
}

func (h *Hub) sendError(c *Client, code, msg string) {
	h.send(c, &Event{Kind: EventError, Error: coreError(code, msg)})
}

// deliverToIdentity sends the event to every live connection of the identity.
func (h *Hub) deliverToIdentity(identityID int64, ev *Event) {
	for _, c := range h.registry.ConnectionsOf(identityID) {
		h.send(c, ev)
	}
}

// broadcastToConversation sends the event to every connection currently
// attached to the conversation, optionally excluding one connection.
func (h *Hub) broadcastToConversation(conversationID int64, ev *Event, exclude *Client) {
	for _, member := range h.tracker.MembersOf(conversationID) {
		for _, c := range h.registry.ConnectionsOf(member) {
			if c == exclude {
				continue
			}
			if att, ok := c.Attached(); ok && att.ConversationID == conversationID {
				h.send(c, ev)
			}
		}
	}
}

// broadcastToOtherMembers sends the event to the attached connections of all
// members except the given identity.
func (h *Hub) broadcastToOtherMembers(conversationID, exceptIdentityID int64, ev *Event) {
	for _, member := range h.tracker.MembersOf(conversationID) {
		if member == exceptIdentityID {
			continue
		}
		for _, c := range h.registry.ConnectionsOf(member) {
			if att, ok := c.Attached(); ok && att.ConversationID == conversationID {
				h.send(c, ev)
			}
		}
	}
}

// memberSnapshots collects the live snapshots of a conversation's members.
func (h *Hub) memberSnapshots(conversationID int64) []Snapshot {
	ids := h.tracker.MembersOf(conversationID)
	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		if snap, ok := h.registry.Snapshot(id); ok {
			out = append(out, snap)
		}
	}
	return out
}

// snapshotOf prefers the live registry snapshot and falls back to the store
// for identities that are currently offline.
func (h *Hub) snapshotOf(ctx context.Context, identityID int64) Snapshot {
	if snap, ok := h.registry.Snapshot(identityID); ok {
		return snap
	}
	ident, err := h.getIdentityByID(ctx, identityID)
	if err != nil {
		h.log.Warn().Err(err).Int64("identity_id", identityID).Msg("load identity snapshot")
		return Snapshot{ID: identityID, Status: store.StatusOffline}
	}
	return SnapshotOf(ident)
}

// ==== bounded store calls ====

func (h *Hub) getIdentityByID(ctx context.Context, id int64) (*store.Identity, error) {
	opCtx, cancel := context.WithTimeout(ctx, h.opTimeout)
	defer cancel()
	return h.store.GetIdentityByID(opCtx, id)
}

func (h *Hub) getConversationByName(ctx context.Context, name string) (*store.Conversation, error) {
	opCtx, cancel := context.WithTimeout(ctx, h.opTimeout)
	defer cancel()
	return h.store.GetConversationByName(opCtx, name)
}

func (h *Hub) getConversationByID(ctx context.Context, id int64) (*store.Conversation, error) {
	opCtx, cancel := context.WithTimeout(ctx, h.opTimeout)
	defer cancel()
	return h.store.GetConversationByID(opCtx, id)
}

func (h *Hub) createConversation(ctx context.Context, name, displayName string) (*store.Conversation, error) {
	opCtx, cancel := context.WithTimeout(ctx, h.opTimeout)
	defer cancel()
	return h.store.CreateConversation(opCtx, name, displayName, store.KindPublic)
}

func (h *Hub) conversationParticipants(ctx context.Context, id int64) ([]int64, error) {
	opCtx, cancel := context.WithTimeout(ctx, h.opTimeout)
	defer cancel()
	return h.store.ConversationParticipants(opCtx, id)
}

func (h *Hub) recentMessages(ctx context.Context, conversationID int64) ([]*store.Message, error) {
	opCtx, cancel := context.WithTimeout(ctx, h.opTimeout)
	defer cancel()
	return h.store.RecentMessages(opCtx, conversationID, h.historyLimit)
}

func (h *Hub) saveMessage(ctx context.Context, msg *store.Message) error {
	opCtx, cancel := context.WithTimeout(ctx, h.opTimeout)
	defer cancel()
	return h.store.SaveMessage(opCtx, msg)
}

func (h *Hub) touchActivity(ctx context.Context, conversationID int64, ts time.Time) error {
	opCtx, cancel := context.WithTimeout(ctx, h.opTimeout)
	defer cancel()
	return h.store.TouchActivity(opCtx, conversationID, ts)
}

func (h *Hub) updateStatus(ctx context.Context, identityID int64, status store.Status, statusMessage string, lastSeen time.Time) error {
	opCtx, cancel := context.WithTimeout(ctx, h.opTimeout)
	defer cancel()
	return h.store.UpdateIdentityStatus(opCtx, identityID, status, statusMessage, lastSeen)
}
