// Package session holds the client-side session value, its lifecycle states
// and the local persistence that lets a session survive process restarts.
package session

import "time"

// State is the auth lifecycle state of the client.
type State int

const (
	Unauthenticated State = iota
	Authenticating
	Authenticated
)

func (s State) String() string {
	switch s {
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// Session is the in-memory session for the signed-in user.
type Session struct {
	UserID      string
	Email       string
	AccessToken string
	ExpiresAt   time.Time
}

// Expired reports whether the session's token deadline has passed.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}
