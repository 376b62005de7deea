// Package invite carries the out-of-band invitation handshake that starts a
// game session: sending an invitation for a category, and accepting or
// declining one received on the participant's private queue.
package invite

import (
	"strings"
	"sync"

	"github.com/ayush-jaipuriar/only-yours/internal/game"
	apperrors "github.com/ayush-jaipuriar/only-yours/internal/platform/errors"
	"github.com/ayush-jaipuriar/only-yours/internal/realtime"
)

// Publisher is the connection contract the bridge drives. It is satisfied by
// *realtime.Manager.
type Publisher interface {
	Subscribe(destination string, handler realtime.Handler) *realtime.Subscription
	Send(destination string, payload any) bool
}

// Bridge listens for invitation traffic on the private queue and issues the
// invite, accept, and decline commands. It shares the queue with the game
// orchestrator's own registration; neither disturbs the other.
type Bridge struct {
	pub Publisher

	mu           sync.Mutex
	sub          *realtime.Subscription
	onInvitation func(game.InvitationEvent)
	onStatus     func(game.StatusEvent)
}

// NewBridge creates a detached bridge bound to pub. Call Attach once the
// connection is established.
func NewBridge(pub Publisher) *Bridge {
	return &Bridge{pub: pub}
}

// OnInvitation registers the callback for incoming partner invitations.
func (b *Bridge) OnInvitation(fn func(game.InvitationEvent)) {
	b.mu.Lock()
	b.onInvitation = fn
	b.mu.Unlock()
}

// OnStatus registers the callback for lifecycle notices such as
// INVITATION_SENT.
func (b *Bridge) OnStatus(fn func(game.StatusEvent)) {
	b.mu.Lock()
	b.onStatus = fn
	b.mu.Unlock()
}

// Attach subscribes the bridge to the private queue. It is idempotent and
// fails with NOT_CONNECTED when the connection is down.
func (b *Bridge) Attach() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		return nil
	}
	sub := b.pub.Subscribe(game.PrivateQueue, b.handle)
	if sub == nil {
		return apperrors.New(apperrors.CodeNotConnected, "connection is not established")
	}
	b.sub = sub
	return nil
}

// Detach releases the private queue registration. Safe to call when already
// detached.
func (b *Bridge) Detach() {
	b.mu.Lock()
	sub := b.sub
	b.sub = nil
	b.mu.Unlock()
	sub.Unsubscribe()
}

// Invite asks the server to invite the partner to a session in categoryID.
func (b *Bridge) Invite(categoryID string) error {
	if strings.TrimSpace(categoryID) == "" {
		return apperrors.New(apperrors.CodeCategoryEmptyID, "category id is required")
	}
	return b.send(game.InviteDestination, inviteCommand{CategoryID: categoryID})
}

// Accept accepts a received invitation, which starts the session server-side.
func (b *Bridge) Accept(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return apperrors.New(apperrors.CodeSessionEmptyID, "session id is required")
	}
	return b.send(game.AcceptDestination, sessionCommand{SessionID: sessionID})
}

// Decline declines a received invitation.
func (b *Bridge) Decline(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return apperrors.New(apperrors.CodeSessionEmptyID, "session id is required")
	}
	return b.send(game.DeclineDestination, sessionCommand{SessionID: sessionID})
}

func (b *Bridge) send(destination string, payload any) error {
	if !b.pub.Send(destination, payload) {
		return apperrors.New(apperrors.CodeNotConnected, "connection is not established")
	}
	return nil
}

func (b *Bridge) handle(msg realtime.Message) {
	switch ev := game.DecodeEvent(msg).(type) {
	case game.InvitationEvent:
		b.mu.Lock()
		fn := b.onInvitation
		b.mu.Unlock()
		if fn != nil {
			fn(ev)
		}
	case game.StatusEvent:
		b.mu.Lock()
		fn := b.onStatus
		b.mu.Unlock()
		if fn != nil {
			fn(ev)
		}
	}
}

type inviteCommand struct {
	CategoryID string `json:"categoryId"`
}

type sessionCommand struct {
	SessionID string `json:"sessionId"`
}
