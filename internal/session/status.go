package session

import "github.com/pathforge/pathforge/internal/api"

// Status is the lifecycle position of the session
type Status int

const (
	Unresolved Status = iota
	Resolving
	Authenticated
	Anonymous
)

func (s Status) String() string {
	switch s {
	case Unresolved:
		return "unresolved"
	case Resolving:
		return "resolving"
	case Authenticated:
		return "authenticated"
	case Anonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// Terminal reports whether resolution has reached a decision
func (s Status) Terminal() bool {
	return s == Authenticated || s == Anonymous
}

// Snapshot is an immutable view of the session
type Snapshot struct {
	User   api.UserProfile
	Status Status
}
