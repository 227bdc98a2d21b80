package registry

import "context"

// PresenceMirror projects the local presence registry into Redis so other
// services can ask whether a user is online.
type PresenceMirror interface {
	MarkOnline(ctx context.Context, userID, connID string) error
	MarkOffline(ctx context.Context, userID, connID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
	StartHeartbeat(ctx context.Context) error
	StopHeartbeat()
}
