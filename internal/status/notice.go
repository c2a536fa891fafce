package status

import (
	"github.com/babelbye/bbchat/internal/bus"
	"go.uber.org/zap"
)

// NoticeKind classifies a user-visible fault.
type NoticeKind string

const (
	// NoticeServer is an error frame sent by the server.
	NoticeServer NoticeKind = "server"
	// NoticeTransport covers malformed frames and connection loss.
	NoticeTransport NoticeKind = "transport"
	// NoticeStorage is a local persistence failure.
	NoticeStorage NoticeKind = "storage"
	// NoticeSync is a failed send, refresh or history clear.
	NoticeSync NoticeKind = "sync"
)

// Notice is a single entry on the status channel.
type Notice struct {
	Kind    NoticeKind
	Message string
	Err     error
}

func (n Notice) String() string {
	if n.Err != nil {
		return string(n.Kind) + ": " + n.Message + ": " + n.Err.Error()
	}
	return string(n.Kind) + ": " + n.Message
}

// Reporter publishes notices on the bus and mirrors them to the log.
type Reporter struct {
	bus    *bus.Bus
	logger *zap.Logger
}

// NewReporter creates a Reporter. Either argument may be nil.
func NewReporter(b *bus.Bus, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{bus: b, logger: logger}
}

// Report publishes a notice. A nil Reporter discards it.
func (r *Reporter) Report(kind NoticeKind, msg string, err error) {
	if r == nil {
		return
	}
	r.logger.Warn("status notice",
		zap.String("kind", string(kind)),
		zap.String("message", msg),
		zap.Error(err),
	)
	r.bus.Emit(bus.KindStatusNotice, Notice{Kind: kind, Message: msg, Err: err})
}
