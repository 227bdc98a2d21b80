package audit

import (
	"context"

	"github.com/weiawesome/wes-io-live/messenger-service/pkg/log"
)

// Audit actions for messenger-service.
const (
	ActionAdmit       = "auth.admit"
	ActionReject      = "auth.reject"
	ActionRefresh     = "auth.refresh"
	ActionDeactivate  = "auth.deactivate"
	ActionCallInvite  = "call.invite"
	ActionCallAccept  = "call.accept"
	ActionCallReject  = "call.reject"
	ActionCallEnd     = "call.end"
	ActionCallTimeout = "call.timeout"
	ActionChatCreate  = "chat.create"
	ActionMessageSend = "message.send"
	ActionMessageRead = "message.read"
)

// Field constants for audit entries.
const (
	FieldAction   = "action"
	FieldTargetID = "target_id"
	FieldDetail   = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action string, userID string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Msg(msg)
}

// LogTarget emits an audit entry about an action on targetID, such as a
// channel, chat or message.
func LogTarget(ctx context.Context, action, userID, targetID, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldTargetID, targetID).
		Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action string, userID string, detail string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldDetail, detail).
		Msg(msg)
}
