package serialhub

import (
	"time"

	"github.com/luhtfiimanal/serialhub/serial"
)

// Health is a passive snapshot of pipeline activity. It lets a host tell a
// silent producer apart from a producer whose lines all fail to classify or
// decode, without any heartbeat from the device.
type Health struct {
	State         serial.State
	LastLineAt    time.Time
	LastPayloadAt time.Time

	Lines            uint64
	Unclassified     uint64
	DecodeErrors     uint64
	Dispatched       uint64
	CallbackFailures uint64
	ReadErrors       uint64
}

// Condition is the host-facing interpretation of a Health snapshot.
type Condition int

const (
	// ConditionOK means a payload was dispatched within the window.
	ConditionOK Condition = iota
	// ConditionClosed means the reader is closed.
	ConditionClosed
	// ConditionSilent means no line arrived within the window.
	ConditionSilent
	// ConditionMismatch means lines arrive but none produced a payload
	// within the window.
	ConditionMismatch
)

func (c Condition) String() string {
	switch c {
	case ConditionOK:
		return "ok"
	case ConditionClosed:
		return "closed"
	case ConditionSilent:
		return "silent"
	case ConditionMismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// Condition classifies the snapshot relative to now.
func (h Health) Condition(now time.Time, window time.Duration) Condition {
	switch {
	case h.State != serial.StateOpen:
		return ConditionClosed
	case h.LastLineAt.IsZero() || now.Sub(h.LastLineAt) > window:
		return ConditionSilent
	case h.LastPayloadAt.IsZero() || now.Sub(h.LastPayloadAt) > window:
		return ConditionMismatch
	default:
		return ConditionOK
	}
}

// Health returns the current snapshot.
func (h *Hub) Health() Health {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.health
}
