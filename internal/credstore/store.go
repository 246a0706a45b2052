// Package credstore persists the session token and cached user profile.
//
// The on-disk layout uses the same keys the browser extension kept in local
// storage: {"userToken": "...", "userInfo": {"email", "name", "ips"}}.
package credstore

import (
	"context"
	"fmt"

	"github.com/Rorqualx/proxyauth/internal/types"
)

// Store is the credential store capability. Token and profile are always
// written and cleared together.
type Store interface {
	// Get returns the stored session. An empty session (Token == "") is
	// returned when nothing is stored.
	Get(ctx context.Context) (*types.Session, error)

	// Set replaces the stored session in a single write.
	Set(ctx context.Context, s *types.Session) error

	// Clear removes both token and profile.
	Clear(ctx context.Context) error
}

// Change describes a transition observed by a watcher.
type Change struct {
	Old *types.Session
	New *types.Session
}

// TokenRemoved reports whether a token was present before and is gone now.
func (c Change) TokenRemoved() bool {
	return !c.Old.Empty() && c.New.Empty()
}

// Watcher is implemented by stores that can report changes made by other
// processes or components.
type Watcher interface {
	// Watch calls fn for every observed change until ctx is done.
	Watch(ctx context.Context, fn func(Change)) error
}

func validate(s *types.Session) error {
	if s == nil || s.Token == "" {
		return fmt.Errorf("session token is required")
	}
	if s.Profile == nil {
		return fmt.Errorf("session profile is required")
	}
	return nil
}

func clone(s *types.Session) *types.Session {
	if s == nil {
		return &types.Session{}
	}
	out := &types.Session{Token: s.Token}
	if s.Profile != nil {
		out.Profile = types.NewProfile(s.Profile.Email, s.Profile.Name, s.Profile.IPs)
	}
	return out
}

func sameSession(a, b *types.Session) bool {
	if a.Empty() || b.Empty() {
		return a.Empty() == b.Empty()
	}
	if a.Token != b.Token {
		return false
	}
	if (a.Profile == nil) != (b.Profile == nil) {
		return false
	}
	if a.Profile == nil {
		return true
	}
	if a.Profile.Email != b.Profile.Email || a.Profile.Name != b.Profile.Name || len(a.Profile.IPs) != len(b.Profile.IPs) {
		return false
	}
	for i := range a.Profile.IPs {
		if a.Profile.IPs[i] != b.Profile.IPs[i] {
			return false
		}
	}
	return true
}
