// Package evtbuzz is the authenticated message-routing core of CloverHub.
//
// A single inbox funnels messages in from websocket clients and internal
// subsystem channels; a dispatch loop fans each message out to every
// eligible per-client outbox. The inbox is the only serialization point:
// per-outbox ordering follows dispatch order, while outboxes are mutually
// unordered.
package evtbuzz

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/reboot-codes/cloverhub/internal/perms"
	"github.com/reboot-codes/cloverhub/internal/store"
	"github.com/reboot-codes/cloverhub/pkg/models"
)

const (
	// inboxSize bounds the fan-in funnel.
	inboxSize = 1024
	// outboxSize is the per-client high-water mark. Dispatch never blocks
	// on a slow client: a full outbox drops the newest message with a
	// warning.
	outboxSize = 256

	// UnauthorizeKindBase is the one wire-visible error event: the kind
	// sent to a client whose API key disappeared from the store
	// mid-session, just before its outbox is removed.
	UnauthorizeKindBase = "clover://hub/server/listener/clients/unauthorize"
	// UnauthorizeBody is the message body carried by the revocation
	// sentinel.
	UnauthorizeBody = "api key removed from store"
)

// UnauthorizeKind renders the revocation sentinel for one client.
func UnauthorizeKind(clientID string) string {
	return UnauthorizeKindBase + "?id=" + clientID
}

// SubsystemIPC is a subsystem's pair of bus channels. Inbox carries
// messages routed to the subsystem; Outbox publishes the subsystem's own
// messages onto the bus (filtered by its key's allowed_events_from).
type SubsystemIPC struct {
	User   models.CoreUser
	Inbox  <-chan models.Message
	Outbox chan<- models.Message
}

// Bus owns the inbox and every outbox.
type Bus struct {
	store  *store.Store
	filter *perms.Filter
	// user is the EvtBuzz core user; synthetic messages (the revocation
	// sentinel) are authored by it.
	user models.CoreUser

	inbox chan models.Message

	mu       sync.Mutex
	outboxes map[string]chan models.Message
}

// NewBus creates a bus backed by the given store, authored as user.
func NewBus(s *store.Store, filter *perms.Filter, user models.CoreUser) *Bus {
	return &Bus{
		store:    s,
		filter:   filter,
		user:     user,
		inbox:    make(chan models.Message, inboxSize),
		outboxes: make(map[string]chan models.Message),
	}
}

// Publish pushes a message onto the inbox.
func (b *Bus) Publish(msg models.Message) {
	b.inbox <- msg
}

// RegisterOutbox allocates the outbox for a client. The caller (the
// websocket send pump, or a subsystem reader) owns the receive half.
func (b *Bus) RegisterOutbox(clientID string) <-chan models.Message {
	ch := make(chan models.Message, outboxSize)
	b.mu.Lock()
	b.outboxes[clientID] = ch
	b.mu.Unlock()
	return ch
}

// RemoveOutbox drops a client's outbox.
func (b *Bus) RemoveOutbox(clientID string) {
	b.mu.Lock()
	delete(b.outboxes, clientID)
	b.mu.Unlock()
}

// RegisterSubsystem wires an internal subsystem onto the bus as a
// first-class participant: a synthetic client record backed by the
// subsystem's core user, an outbox for deliveries, and a pump that forwards
// the subsystem's outbound messages into the inbox when its key's
// allowed_events_from permits the kind.
func (b *Bus) RegisterSubsystem(ctx context.Context, user models.CoreUser) SubsystemIPC {
	clientID := b.store.GenerateClientID()
	b.store.PutClient(models.Client{
		ID:     clientID,
		APIKey: user.APIKey,
		UserID: user.ID,
		Active: true,
	})

	inbox := b.RegisterOutbox(clientID)
	outbox := make(chan models.Message, outboxSize)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbox:
				if !ok {
					return
				}
				key, found := b.store.GetAPIKey(user.APIKey)
				if !found || !b.filter.MaySend(&key, msg.Kind) {
					log.Debug().
						Str("user", user.ID).
						Str("kind", msg.Kind).
						Msg("Subsystem event not permitted onto bus")
					continue
				}
				b.Publish(msg)
			}
		}
	}()

	return SubsystemIPC{User: user, Inbox: inbox, Outbox: outbox}
}

// Run consumes the inbox until ctx is cancelled. It is the single consumer:
// dispatch order here is the total order every outbox sees a subsequence
// of.
func (b *Bus) Run(ctx context.Context) {
	log.Info().Msg("EvtBuzz dispatch loop started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("EvtBuzz dispatch loop stopped")
			return
		case msg := <-b.inbox:
			b.dispatch(msg)
		}
	}
}

// dispatch fans one message out to every eligible client.
func (b *Bus) dispatch(msg models.Message) {
	log.Debug().Str("kind", msg.Kind).Str("author", msg.Author).Msg("Dispatching message")

	for clientID, client := range b.store.ClientsSnapshot() {
		if !client.Active {
			continue
		}

		b.mu.Lock()
		outbox, ok := b.outboxes[clientID]
		b.mu.Unlock()
		if !ok {
			continue
		}

		key, found := b.store.GetAPIKey(client.APIKey)
		var keyRef *models.APIKey
		if found {
			keyRef = &key
		}

		switch b.filter.MayDeliver(keyRef, clientID, &msg) {
		case perms.Deliver, perms.Echo:
			b.send(outbox, clientID, msg)
		case perms.Skip:
			log.Debug().Str("client", clientID).Str("kind", msg.Kind).Msg("Message not sent to client")
		case perms.DenyMissingKey:
			b.unauthorize(outbox, clientID)
		}
	}
}

// unauthorize notifies a client whose key was revoked mid-session and
// removes it from the fabric.
func (b *Bus) unauthorize(outbox chan models.Message, clientID string) {
	log.Error().
		Str("client", clientID).
		Msg("Client's API key was removed from the store without closing the connection; unauthorizing")

	sentinel := models.Message{
		ID:      b.store.GenerateMessageID(),
		Author:  store.UserTypeEvtBuzz,
		Kind:    UnauthorizeKind(clientID),
		Message: UnauthorizeBody,
	}
	b.store.PutMessage(sentinel)
	b.send(outbox, clientID, sentinel)

	b.store.SetClientActive(clientID, false)
	b.RemoveOutbox(clientID)
}

// send delivers without blocking; the newest message is dropped when the
// outbox is at its high-water mark.
func (b *Bus) send(outbox chan models.Message, clientID string, msg models.Message) {
	select {
	case outbox <- msg:
	default:
		log.Warn().
			Str("client", clientID).
			Str("kind", msg.Kind).
			Msg("Outbox full, dropping message")
	}
}

// NewMessage stamps a fresh id onto a message authored by the given author
// URL and records it in the store.
func (b *Bus) NewMessage(author, kind, body string) models.Message {
	msg := models.Message{
		ID:      b.store.GenerateMessageID(),
		Author:  author,
		Kind:    kind,
		Message: body,
	}
	b.store.PutMessage(msg)
	return msg
}

// iso8601 renders a timestamp the way every session and health record does.
func iso8601(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
