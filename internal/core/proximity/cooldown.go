package proximity

import (
	"time"

	"github.com/sugvoyage/sugvoyage/internal/core/domain"
)

// ShouldNotify reports whether session may receive a discovery at now.
// A session that was never notified always may.
func ShouldNotify(session domain.UserSession, now time.Time, cooldown time.Duration) bool {
	if session.LastNotifiedAt == nil {
		return true
	}
	return now.Sub(*session.LastNotifiedAt) >= cooldown
}

// MarkNotified records now as the session's last notification time.
func MarkNotified(session *domain.UserSession, now time.Time) {
	t := now
	session.LastNotifiedAt = &t
}
