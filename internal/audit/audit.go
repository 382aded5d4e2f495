// Package audit emits structured audit entries for session lifecycle events.
package audit

import (
	"context"

	"github.com/Tyrowin/chatgate/internal/log"
)

// Audit actions.
const (
	ActionLogin       = "session.login"
	ActionLoginFailed = "session.login_failed"
	ActionLogout      = "session.logout"
)

// FieldAction names the audited action.
const FieldAction = "action"

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action, username, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUsername, username).
		Msg(msg)
}
