// Package session carries per-request execution preferences through a
// context.Context. The multiplex layer reads the session to decide how
// long a put waits for slow stores and whether reads consult the sync
// queue before trusting an absent answer.
package session

import (
	"context"
	"time"
)

// Class selects how a put resolves relative to its fan-out.
type Class int

const (
	// ClassForeground resolves as soon as the write quorum is met;
	// remaining stores finish in the background.
	ClassForeground Class = iota
	// ClassBackground waits for every store to finish before resolving.
	ClassBackground
	// ClassBackgroundUnlessTooSlow waits for every store up to
	// BackgroundTimeout past quorum, then detaches the stragglers.
	ClassBackgroundUnlessTooSlow
)

func (c Class) String() string {
	switch c {
	case ClassForeground:
		return "foreground"
	case ClassBackground:
		return "background"
	case ClassBackgroundUnlessTooSlow:
		return "background_unless_too_slow"
	default:
		return "unknown"
	}
}

// DefaultBackgroundTimeout bounds the post-quorum wait for
// ClassBackgroundUnlessTooSlow when the session does not set one.
const DefaultBackgroundTimeout = 5 * time.Second

// Session is the per-request preference bundle.
type Session struct {
	Class             Class
	BackgroundTimeout time.Duration
	// QueueLookupOnGet makes Get consult the sync queue before
	// reporting a key absent.
	QueueLookupOnGet bool
	// QueueLookupOnIsPresent does the same for presence checks.
	QueueLookupOnIsPresent bool
}

type contextKey struct{}

// NewContext returns a context carrying the session.
func NewContext(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext extracts the session, falling back to a foreground
// session with default timeouts.
func FromContext(ctx context.Context) Session {
	if s, ok := ctx.Value(contextKey{}).(Session); ok {
		if s.BackgroundTimeout <= 0 {
			s.BackgroundTimeout = DefaultBackgroundTimeout
		}
		return s
	}
	return Session{
		Class:             ClassForeground,
		BackgroundTimeout: DefaultBackgroundTimeout,
	}
}
