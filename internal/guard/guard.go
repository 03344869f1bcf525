// Package guard decides whether protected content may be shown. It only reads
// the session; it never starts a resolution.
package guard

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pathforge/pathforge/internal/api"
	"github.com/pathforge/pathforge/internal/session"
)

// Decision is the outcome of a guard check
type Decision int

const (
	// Wait means the session is not resolved yet: render a neutral state
	Wait Decision = iota
	// Redirect means there is no session: go to the entry point
	Redirect
	// Admit means the wrapped content may be shown
	Admit
)

func (d Decision) String() string {
	switch d {
	case Wait:
		return "wait"
	case Redirect:
		return "redirect"
	case Admit:
		return "admit"
	default:
		return "unknown"
	}
}

// UserKey is the gin context key holding the admitted user's profile
const UserKey = "session_user"

var ErrNotAuthenticated = errors.New("not authenticated")

// Verdict is a Decision plus what the caller needs to act on it
type Verdict struct {
	Decision Decision
	Location string          // set for Redirect
	User     api.UserProfile // set for Admit
}

// Decide maps a session snapshot to a verdict
func Decide(snap session.Snapshot, entryPath string) Verdict {
	switch snap.Status {
	case session.Authenticated:
		if len(snap.User) == 0 {
			return Verdict{Decision: Redirect, Location: entryPath}
		}
		return Verdict{Decision: Admit, User: snap.User}
	case session.Anonymous:
		return Verdict{Decision: Redirect, Location: entryPath}
	default:
		return Verdict{Decision: Wait}
	}
}

// Source is what the guard reads: the session holder satisfies it
type Source interface {
	Snapshot() session.Snapshot
	Await(ctx context.Context) (session.Snapshot, error)
}

// Guard binds Decide to a live session and an entry point
type Guard struct {
	source    Source
	entryPath string
}

func New(source Source, entryPath string) *Guard {
	return &Guard{source: source, entryPath: entryPath}
}

// EntryPath returns where anonymous users are sent
func (g *Guard) EntryPath() string {
	return g.entryPath
}

// Check decides on the current snapshot without blocking
func (g *Guard) Check() Verdict {
	return Decide(g.source.Snapshot(), g.entryPath)
}

// Require waits out an unresolved session and returns the admitted user, or an
// error wrapping ErrNotAuthenticated that names the entry point.
func (g *Guard) Require(ctx context.Context) (api.UserProfile, error) {
	v := g.Check()
	if v.Decision == Wait {
		snap, err := g.source.Await(ctx)
		if err != nil {
			return nil, fmt.Errorf("waiting for session: %w", err)
		}
		v = Decide(snap, g.entryPath)
	}

	if v.Decision != Admit {
		return nil, fmt.Errorf("%w: continue at %s", ErrNotAuthenticated, v.Location)
	}
	return v.User, nil
}

// Middleware gates gin routes
func (g *Guard) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		v := g.Check()

		switch v.Decision {
		case Admit:
			c.Set(UserKey, v.User)
			c.Next()
		case Redirect:
			c.Redirect(http.StatusFound, v.Location)
			c.Abort()
		default:
			c.AbortWithStatusJSON(http.StatusAccepted, gin.H{
				"status":  session.Resolving.String(),
				"message": "Loading...",
			})
		}
	}
}

// UserFromContext returns the profile stored by Middleware
func UserFromContext(c *gin.Context) (api.UserProfile, bool) {
	v, ok := c.Get(UserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(api.UserProfile)
	return user, ok
}
