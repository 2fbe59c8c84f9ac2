package ws

import (
	"net/http"
	"time"

	"roomchat/internal/observability"
)

// ConnInfo describes one live subscription connection.
type ConnInfo struct {
	ConnID      string
	UserID      string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// NewConnInfo collects connection metadata from the opening request.
func NewConnInfo(r *http.Request, userID, traceID string) ConnInfo {
	return ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(r),
		IP:          observability.IPFromRequest(r),
		RequestID:   observability.RequestIDFromRequest(r),
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
}

func (i ConnInfo) identity() observability.StreamIdentity {
	return observability.StreamIdentity{
		ConnID:      i.ConnID,
		UserID:      i.UserID,
		DeviceID:    i.DeviceID,
		IP:          i.IP,
		ConnectedAt: i.ConnectedAt,
	}
}
