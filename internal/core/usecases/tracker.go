package usecases

import (
	"math"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sugvoyage/sugvoyage/internal/core/domain"
	"github.com/sugvoyage/sugvoyage/internal/core/proximity"
)

type sessionEntry struct {
	mu      sync.Mutex
	session domain.UserSession
	removed bool
}

// LocationTracker owns every live UserSession. Each session has its own lock
// so that the check, emit and mark steps of a notification never interleave
// for the same session.
type LocationTracker struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
	now      func() time.Time
}

// NewLocationTracker creates an empty tracker.
func NewLocationTracker() *LocationTracker {
	return &LocationTracker{
		sessions: make(map[string]*sessionEntry),
		now:      time.Now,
	}
}

// UpdatePosition records the latest position for sessionID, creating the
// session on first use. Invalid input leaves any prior position untouched.
func (t *LocationTracker) UpdatePosition(sessionID string, position domain.GeoPoint, radiusMeters float64) error {
	if sessionID == "" {
		return eris.Wrap(domain.ErrInvalidPosition, "tracker: empty session id")
	}
	if err := position.Validate(); err != nil {
		return err
	}
	if radiusMeters < 0 || math.IsNaN(radiusMeters) {
		return eris.Wrapf(domain.ErrInvalidPosition, "tracker: radius %.1f", radiusMeters)
	}

	for {
		e := t.entry(sessionID, true)
		e.mu.Lock()
		if e.removed {
			// Lost a race with RemoveSession; retry against a fresh entry.
			e.mu.Unlock()
			continue
		}
		now := t.now()
		if e.session.SessionID == "" {
			e.session = domain.UserSession{SessionID: sessionID, CreatedAt: now}
		}
		e.session.LastPosition = position
		e.session.RadiusMeters = radiusMeters
		e.session.UpdatedAt = now
		e.mu.Unlock()
		return nil
	}
}

// GetSession returns a copy of the session.
func (t *LocationTracker) GetSession(sessionID string) (domain.UserSession, error) {
	e := t.entry(sessionID, false)
	if e == nil {
		return domain.UserSession{}, eris.Wrapf(domain.ErrSessionNotFound, "tracker: session %s", sessionID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return domain.UserSession{}, eris.Wrapf(domain.ErrSessionNotFound, "tracker: session %s", sessionID)
	}
	return copySession(e.session), nil
}

// RemoveSession discards the session. Removing an unknown session is a no-op.
func (t *LocationTracker) RemoveSession(sessionID string) {
	t.mu.Lock()
	e, ok := t.sessions[sessionID]
	if ok {
		delete(t.sessions, sessionID)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()
}

// ShouldNotify applies the cooldown gate to a tracked session.
func (t *LocationTracker) ShouldNotify(sessionID string, now time.Time, cooldown time.Duration) (bool, error) {
	var ok bool
	err := t.withSession(sessionID, func(s *domain.UserSession) error {
		ok = proximity.ShouldNotify(*s, now, cooldown)
		return nil
	})
	return ok, err
}

// MarkNotified stamps the session's last notification time.
func (t *LocationTracker) MarkNotified(sessionID string, now time.Time) error {
	return t.withSession(sessionID, func(s *domain.UserSession) error {
		proximity.MarkNotified(s, now)
		return nil
	})
}

// NotifyOnce runs emit at most once per cooldown window. The session lock is
// held across the check, emit and mark so concurrent callers cannot both emit.
// It reports whether emit ran successfully. An emit error leaves the session unmarked.
func (t *LocationTracker) NotifyOnce(sessionID string, now time.Time, cooldown time.Duration, emit func(domain.UserSession) error) (bool, error) {
	var emitted bool
	err := t.withSession(sessionID, func(s *domain.UserSession) error {
		if !proximity.ShouldNotify(*s, now, cooldown) {
			return nil
		}
		if err := emit(copySession(*s)); err != nil {
			return err
		}
		proximity.MarkNotified(s, now)
		emitted = true
		return nil
	})
	return emitted, err
}

// Len returns the number of tracked sessions.
func (t *LocationTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

func (t *LocationTracker) withSession(sessionID string, fn func(*domain.UserSession) error) error {
	e := t.entry(sessionID, false)
	if e == nil {
		return eris.Wrapf(domain.ErrSessionNotFound, "tracker: session %s", sessionID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return eris.Wrapf(domain.ErrSessionNotFound, "tracker: session %s", sessionID)
	}
	return fn(&e.session)
}

func (t *LocationTracker) entry(sessionID string, create bool) *sessionEntry {
	t.mu.RLock()
	e, ok := t.sessions[sessionID]
	t.mu.RUnlock()
	if ok || !create {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok = t.sessions[sessionID]; ok {
		return e
	}
	e = &sessionEntry{}
	t.sessions[sessionID] = e
	return e
}

func copySession(s domain.UserSession) domain.UserSession {
	if s.LastNotifiedAt != nil {
		ts := *s.LastNotifiedAt
		s.LastNotifiedAt = &ts
	}
	return s
}

// Sweep removes sessions whose last update is before cutoff and returns how
// many were removed.
func (t *LocationTracker) Sweep(cutoff time.Time) int {
	t.mu.RLock()
	var stale []string
	for id, e := range t.sessions {
		// A locked entry is mid-notification and therefore not idle.
		if !e.mu.TryLock() {
			continue
		}
		if !e.removed && e.session.UpdatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
		e.mu.Unlock()
	}
	t.mu.RUnlock()

	removed := 0
	for _, id := range stale {
		if t.removeIfIdle(id, cutoff) {
			removed++
		}
	}
	return removed
}

// removeIfIdle re-checks staleness under both locks so a session updated
// after the scan survives. Lock order is map then entry.
func (t *LocationTracker) removeIfIdle(sessionID string, cutoff time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.sessions[sessionID]
	if !ok {
		return false
	}
	if !e.mu.TryLock() {
		return false
	}
	defer e.mu.Unlock()
	if e.removed || !e.session.UpdatedAt.Before(cutoff) {
		return false
	}
	e.removed = true
	delete(t.sessions, sessionID)
	return true
}
