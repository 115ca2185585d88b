package auth

import (
	"context"

	"github.com/enclavecode/swarm/coordinator/api"
	"github.com/enclavecode/swarm/coordinator/db"
	"github.com/enclavecode/swarm/shared/timeutils"
)

// SecurityEventLogger records every accepted signed request into the
// rotating security-event tail, separate from the ledger. It is threaded
// through the request path as a value, never a global.
type SecurityEventLogger struct {
	ctx      context.Context
	database db.Database
	events   chan *api.SecurityEvent
}

// NewSecurityEventLogger starts the background writer. Recording never
// blocks the request path: if the buffer is full the event is counted as
// dropped and logged.
func NewSecurityEventLogger(ctx context.Context, database db.Database) *SecurityEventLogger {
	l := &SecurityEventLogger{
		ctx:      ctx,
		database: database,
		events:   make(chan *api.SecurityEvent, 256),
	}
	go l.run()
	return l
}

// Record enqueues one accepted-request event.
func (l *SecurityEventLogger) Record(ev *api.SecurityEvent) {
	if ev.TimestampMs == 0 {
		ev.TimestampMs = timeutils.NowUnixMilli()
	}
	select {
	case l.events <- ev:
	default:
		log.WithField("sourceId", ev.SourceID).Warn("Security event buffer full, dropping record")
	}
}

func (l *SecurityEventLogger) run() {
	for {
		select {
		case ev := <-l.events:
			if err := l.database.SaveSecurityEvent(l.ctx, ev); err != nil {
				log.WithError(err).Error("Could not persist security event")
			}
		case <-l.ctx.Done():
			return
		}
	}
}
