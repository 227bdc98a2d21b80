package auth

import (
	"context"
	"fmt"

	"github.com/weiawesome/wes-io-live/messenger-service/internal/audit"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/domain"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/presence"
	"github.com/weiawesome/wes-io-live/messenger-service/pkg/log"
	"github.com/weiawesome/wes-io-live/messenger-service/pkg/pubsub"
)

// EventUserDeactivated is published when an account is disabled.
const EventUserDeactivated = "user.deactivated"

// DeactivatedPayload is the payload of EventUserDeactivated.
type DeactivatedPayload struct {
	UserID string `json:"userId"`
}

// Revoker invalidates the tokens of a user.
type Revoker interface {
	Revoke(ctx context.Context, userID string) error
}

// Invalidator drops cached state of a user.
type Invalidator interface {
	Invalidate(ctx context.Context, userID string)
}

// Connections lists every open connection of a user, including ones the
// presence registry no longer points at.
type Connections interface {
	ConnsOf(userID string) []presence.Conn
}

// DeactivationListener closes the connections of identities that became
// inactive after admission.
type DeactivationListener struct {
	sub         pubsub.Subscriber
	channel     string
	registry    *presence.Registry
	conns       Connections
	revoker     Revoker
	invalidator Invalidator
}

// NewDeactivationListener creates a listener. conns and invalidator may be
// nil.
func NewDeactivationListener(sub pubsub.Subscriber, channel string, registry *presence.Registry, conns Connections, revoker Revoker, invalidator Invalidator) *DeactivationListener {
	return &DeactivationListener{
		sub:         sub,
		channel:     channel,
		registry:    registry,
		conns:       conns,
		revoker:     revoker,
		invalidator: invalidator,
	}
}

// Run consumes deactivation events until ctx is done.
func (d *DeactivationListener) Run(ctx context.Context) error {
	events, err := d.sub.Subscribe(ctx, d.channel)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", d.channel, err)
	}
	l := log.L()
	l.Info().Str("channel", d.channel).Msg("deactivation listener started")

	for event := range events {
		if event.Type != EventUserDeactivated {
			continue
		}
		var payload DeactivatedPayload
		if err := event.UnmarshalPayload(&payload); err != nil || payload.UserID == "" {
			l.Warn().Err(err).Msg("malformed deactivation event")
			continue
		}
		d.Deactivate(ctx, payload.UserID)
	}
	return ctx.Err()
}

// Deactivate revokes userID's tokens and closes all of its connections.
func (d *DeactivationListener) Deactivate(ctx context.Context, userID string) {
	l := log.Ctx(ctx)

	if d.invalidator != nil {
		d.invalidator.Invalidate(ctx, userID)
	}
	if err := d.revoker.Revoke(ctx, userID); err != nil {
		l.Error().Err(err).Str(log.FieldUserID, userID).Msg("failed to revoke tokens of deactivated user")
	}

	for _, conn := range d.connsOf(userID) {
		conn.Send(domain.NewAuthError("account is inactive"))
		conn.Close()
	}
	audit.Log(ctx, audit.ActionDeactivate, userID, "deactivated user disconnected")
}

func (d *DeactivationListener) connsOf(userID string) []presence.Conn {
	var conns []presence.Conn
	seen := make(map[string]bool)
	if conn, ok := d.registry.Lookup(userID); ok {
		conns = append(conns, conn)
		seen[conn.ID()] = true
	}
	if d.conns == nil {
		return conns
	}
	for _, conn := range d.conns.ConnsOf(userID) {
		if !seen[conn.ID()] {
			conns = append(conns, conn)
			seen[conn.ID()] = true
		}
	}
	return conns
}
