package trustguard

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/campuskit/trustguard/internal/audit"
)

// AuditEvent is one security-relevant occurrence.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's dispatcher goroutine.
type AuditSink = audit.Sink

// Audit event types.
const (
	AuditLogin          = audit.EventLogin
	AuditRegister       = audit.EventRegister
	AuditRefresh        = audit.EventRefresh
	AuditRestore        = audit.EventRestore
	AuditSwitch         = audit.EventSwitch
	AuditReuseDetected  = audit.EventReuseDetected
	AuditLogout         = audit.EventLogout
	AuditLogoutAll      = audit.EventLogoutAll
	AuditIPBlocked      = audit.EventIPBlocked
	AuditIPUnblocked    = audit.EventUnblocked
	AuditQuotaExceeded  = audit.EventQuotaExceeded
	AuditRateLimited    = audit.EventRateLimited
	AuditDeviceAccounts = audit.EventDeviceAccounts
)

// NoOpSink discards events.
type NoOpSink = audit.NoOpSink

// NewChannelSink returns a sink that buffers events on a channel, mostly for tests.
func NewChannelSink(buffer int) *audit.ChannelSink { return audit.NewChannelSink(buffer) }

// NewJSONWriterSink returns a sink that writes one JSON object per line to w.
func NewJSONWriterSink(w io.Writer) *audit.JSONWriterSink { return audit.NewJSONWriterSink(w) }

// NewZapSink returns a sink that logs events through logger.
func NewZapSink(logger *zap.Logger) *audit.ZapSink { return audit.NewZapSink(logger) }

func (e *Engine) emitAudit(ctx context.Context, event AuditEvent) {
	if e == nil || e.audit == nil {
		return
	}
	if event.IP == "" {
		event.IP = clientIPFromContext(ctx)
	}
	e.audit.Emit(ctx, event)
}
