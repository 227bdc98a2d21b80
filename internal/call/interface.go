// Package call implements one-to-one call signaling: the invite, accept,
// reject and end lifecycle of a channel, ICE relay and ring timeouts.
package call

import (
	"context"
	"time"

	"github.com/weiawesome/wes-io-live/messenger-service/internal/domain"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/kafka"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/presence"
)

// Service handles call signaling frames. Each method replies to the
// initiating connection itself and returns the error it reported, if any,
// so the caller can log it.
type Service interface {
	Invite(ctx context.Context, from presence.Conn, req *domain.CallInviteRequest) error
	Accept(ctx context.Context, from presence.Conn, req *domain.CallAcceptRequest) error
	Reject(ctx context.Context, from presence.Conn, req *domain.CallChannelRequest) error
	End(ctx context.Context, from presence.Conn, req *domain.CallChannelRequest) error
	RequestOffer(ctx context.Context, from presence.Conn, req *domain.CallChannelRequest) error
	RelayICECandidate(ctx context.Context, from presence.Conn, req *domain.ICECandidateRequest) error

	// Disconnect ends every call userID takes part in. Call it only once the
	// user has no current connection.
	Disconnect(ctx context.Context, userID string)

	// ActiveCalls returns the number of in-flight sessions.
	ActiveCalls() int

	// Run sweeps expired terminal markers until ctx is done.
	Run(ctx context.Context, interval time.Duration)

	// Stop cancels every ring timer. Sessions are left in place.
	Stop()
}

// Users resolves display names and device tokens.
type Users interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

// HistorySink receives the single terminal record of each call.
type HistorySink interface {
	RecordCall(ctx context.Context, record *domain.CallHistory) error
}

// HistorySinkFunc adapts a function to HistorySink.
type HistorySinkFunc func(ctx context.Context, record *domain.CallHistory) error

func (f HistorySinkFunc) RecordCall(ctx context.Context, record *domain.CallHistory) error {
	return f(ctx, record)
}

// ChannelLedger reports whether a channel id already has a terminal record.
// It backs the in-memory markers once they have been swept.
type ChannelLedger interface {
	ExistsByChannel(ctx context.Context, channelID string) (bool, error)
}

// EventPublisher receives non-terminal lifecycle events.
type EventPublisher interface {
	PublishCallEvent(ctx context.Context, event *kafka.CallEvent) error
}
