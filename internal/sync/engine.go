package sync

import (
	"errors"

	"github.com/babelbye/bbchat/internal/identity"
	"github.com/babelbye/bbchat/internal/presence"
	"github.com/babelbye/bbchat/internal/status"
	"github.com/babelbye/bbchat/internal/timeline"
	"github.com/babelbye/bbchat/internal/transport"
	"go.uber.org/zap"
)

// Engine routes inbound transport events to the timeline, presence and
// status components. Handle is the transport session's handler, so events
// are processed one at a time in arrival order.
type Engine struct {
	timeline *timeline.Reconciler
	resolver *identity.Resolver
	presence *presence.Tracker
	reporter *status.Reporter
	logger   *zap.Logger
}

// NewEngine creates a new sync engine.
func NewEngine(tl *timeline.Reconciler, r *identity.Resolver, p *presence.Tracker, rep *status.Reporter, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		timeline: tl,
		resolver: r,
		presence: p,
		reporter: rep,
		logger:   logger,
	}
}

// Handle processes one inbound event. It never panics on remote input.
func (e *Engine) Handle(evt transport.Event) {
	switch v := evt.(type) {
	case transport.MessageEvent:
		e.handleMessage(v)
	case transport.DeliveryEvent:
		e.handleDelivery(v)
	case transport.ErrorEvent:
		e.reporter.Report(status.NoticeServer, v.Message, nil)
	case transport.InvalidEvent:
		e.reporter.Report(status.NoticeTransport, "ignored malformed frame", v.Err)
	case transport.ClosedEvent:
		e.reporter.Report(status.NoticeTransport, "connection closed", v.Err)
	default:
		e.logger.Warn("unhandled event", zap.Any("event", evt))
	}
}

func (e *Engine) handleMessage(evt transport.MessageEvent) {
	msg, inserted, err := e.timeline.IngestRemote(evt)
	switch {
	case errors.Is(err, timeline.ErrUnresolved):
		e.logger.Debug("dropped message from unknown peer", zap.String("from", evt.From))
		return
	case err != nil:
		e.reporter.Report(status.NoticeStorage, "could not save incoming message", err)
		return
	}
	// The peer stopped typing once its message landed.
	e.presence.Clear(msg.ConnectionID)
	if inserted {
		e.logger.Debug("message ingested", zap.String("id", msg.ID), zap.String("conversation", msg.ConnectionID))
	}
}

func (e *Engine) handleDelivery(evt transport.DeliveryEvent) {
	switch evt.Status {
	case transport.DeliveryTyping:
		convID, ok := e.resolver.Resolve(evt.To)
		if !ok {
			e.logger.Debug("dropped typing from unknown peer", zap.String("peer", evt.To))
			return
		}
		e.presence.Signal(convID)
	case transport.DeliverySent:
		if evt.ClientID == "" {
			return
		}
		known, err := e.timeline.AckDelivery(evt.ClientID)
		if err != nil {
			e.reporter.Report(status.NoticeStorage, "could not record delivery", err)
			return
		}
		if !known {
			e.logger.Debug("delivery for unknown message", zap.String("client_id", evt.ClientID))
		}
	}
}
