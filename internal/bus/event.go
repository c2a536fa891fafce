package bus

import "time"

// Event kinds published by the sync engine. Subscribers filter by namespace
// prefix, e.g. "timeline." or "presence.".
const (
	KindTimelineUpdated   = "timeline.updated"
	KindPresenceChanged   = "presence.changed"
	KindTransportStatus   = "transport.status_changed"
	KindStatusNotice      = "status.notice"
	KindConnectionsLoaded = "identity.connections_loaded"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
