package domain

import (
	"time"
)

// CallState is the lifecycle state of a call between two users.
type CallState int

const (
	// CallIdle means no call exists for the pair.
	CallIdle CallState = iota
	// CallRinging means an offer was delivered and the callee has not answered.
	CallRinging
	// CallActive means the callee accepted.
	CallActive
	// CallEnded means the call was rejected, hung up or abandoned.
	CallEnded
)

func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallRinging:
		return "ringing"
	case CallActive:
		return "active"
	case CallEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// InCall returns true while signaling between the pair is allowed.
func (s CallState) InCall() bool {
	return s == CallRinging || s == CallActive
}

// CallRecord is the durable log entry written when a call becomes active.
type CallRecord struct {
	ID        int64     `json:"id,omitempty"`
	CallerID  string    `json:"caller_id"`
	CalleeID  string    `json:"callee_id"`
	Timestamp time.Time `json:"timestamp"`
}
