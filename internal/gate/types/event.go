package types

import "time"

// EventStatus is the decision state of a processed attendance event.
type EventStatus string

const (
	StatusProcessing EventStatus = "processing"
	StatusAllowed    EventStatus = "allowed"
	StatusDenied     EventStatus = "denied"
	StatusError      EventStatus = "error"
)

// AttendanceEvent is emitted once per processed punch for the
// presentation and audit layers.  The same ID is reused when the
// provisional "processing" event is superseded by a decision.
type AttendanceEvent struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	Timestamp time.Time   `json:"timestamp"`
	Status    EventStatus `json:"status"`
	Reason    string      `json:"reason,omitempty"`
}

// ConnState tracks the ingestion engine's device session.
type ConnState string

const (
	StateDisconnected      ConnState = "disconnected"
	StateConnecting        ConnState = "connecting"
	StateConnectedRealtime ConnState = "connected_realtime"
	StateConnectedPolling  ConnState = "connected_polling"
	StateStopped           ConnState = "stopped"
)
