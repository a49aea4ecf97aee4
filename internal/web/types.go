package web

import (
	"encoding/json"

	"github.com/colonyops/taskwatch/internal/core/alarm"
)

// SnoozeRequest is the body of POST .../snooze. Zero minutes uses the
// configured default.
type SnoozeRequest struct {
	Minutes int `json:"minutes"`
}

// LinkRequest is the body of PUT .../supervisor.
type LinkRequest struct {
	SupervisorID string `json:"supervisorId"`
}

// SessionStatus describes an owner's session.
type SessionStatus struct {
	OwnerID  string        `json:"ownerId"`
	Running  bool          `json:"running"`
	Revision int64         `json:"revision,omitempty"`
	Passes   int           `json:"passes,omitempty"`
	Alarms   []alarm.Alarm `json:"alarms,omitempty"`
}

// FlushResponse reports a queued-notification flush.
type FlushResponse struct {
	Delivered int `json:"delivered"`
}

// LinkedOwners lists the owners linked to a supervisor.
type LinkedOwners struct {
	SupervisorID string   `json:"supervisorId"`
	Owners       []string `json:"owners"`
}

// StreamFrame is the data of each server-sent event on the owner stream.
type StreamFrame struct {
	Revision int64           `json:"revision"`
	Exists   bool            `json:"exists"`
	Value    json.RawMessage `json:"value,omitempty"`
}
