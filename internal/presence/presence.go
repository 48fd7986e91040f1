package presence

import (
	"time"

	"github.com/dustin/go-humanize"
)

// OnlineThreshold is how fresh a heartbeat must be for a user to count as
// online. The heartbeat interval matches it, so an active client never
// drifts into "last seen" territory.
const (
	OnlineThreshold   = 2 * time.Minute
	HeartbeatInterval = 2 * time.Minute
)

// Text derives the human presence string from the last heartbeat.
func Text(lastSeen, now time.Time) string {
	if lastSeen.IsZero() {
		return "Offline"
	}
	if now.Sub(lastSeen) < OnlineThreshold {
		return "Online"
	}
	return "Last seen " + humanize.RelTime(lastSeen, now, "ago", "from now")
}
