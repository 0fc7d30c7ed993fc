package engine

import "fmt"

// State is the lifecycle state of a Manager.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Mode selects where merges run.
type Mode int

const (
	// Async merges on a background goroutine.
	Async Mode = iota
	// Sync merges inline on the goroutine that adds a barrel.
	Sync
)

func (m Mode) String() string {
	if m == Sync {
		return "sync"
	}
	return "async"
}

// ParseMode parses "sync" or "async".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "sync":
		return Sync, nil
	case "async", "":
		return Async, nil
	default:
		return 0, fmt.Errorf("unknown merge mode %q", s)
	}
}
