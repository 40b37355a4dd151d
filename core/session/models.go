package session

import (
	"strings"
	"time"

	"github.com/volatiletech/null/v8"
)

type (
	Status   string
	Presence string
)

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"

	PresenceOnline Presence = "online"
	PresenceAway   Presence = "away"

	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
	DeviceUnknown = "unknown"
)

// Activity actions
const (
	ActionLogin  = "login"
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionRevoke = "revoke"
	ActionExport = "export"
)

// Session is an authenticated admin panel session.
// Status only ever goes from active to revoked, and LastActive never decreases.
type Session struct {
	ID         string      `db:"id" json:"id"`
	UserID     string      `db:"user_id" json:"user_id"`
	Email      string      `db:"email" json:"email"`
	Device     string      `db:"device" json:"device"`
	IP         string      `db:"ip" json:"ip"`
	Location   string      `db:"location" json:"location"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"` // UTC
	LastActive null.Time   `db:"last_active" json:"last_active"`
	Status     Status      `db:"status" json:"status"`
	RevokedAt  null.Time   `db:"revoked_at" json:"revoked_at"`
	RevokedBy  null.String `db:"revoked_by" json:"revoked_by"`
}

func (s Session) IsActive() bool  { return s.Status == StatusActive }
func (s Session) IsRevoked() bool { return s.Status == StatusRevoked }

// LastSeen is the last heartbeat, or the creation time if there was none.
func (s Session) LastSeen() time.Time {
	if s.LastActive.Valid {
		return s.LastActive.Time
	}
	return s.CreatedAt
}

// Presence is online iff the session was seen less than threshold ago.
func (s Session) Presence(now time.Time, threshold time.Duration) Presence {
	if now.Sub(s.LastSeen()) < threshold {
		return PresenceOnline
	}
	return PresenceAway
}

// View is a session as listed on the security page.
type View struct {
	Session
	Presence Presence `json:"presence"`
	Current  bool     `json:"current"`
}

// Activity is an append-only audit trail entry.
type Activity struct {
	ID        string    `db:"id" json:"id"`
	SessionID string    `db:"session_id" json:"session_id"`
	Action    string    `db:"action" json:"action"`
	Target    string    `db:"target" json:"target"`
	Details   string    `db:"details" json:"details"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"` // UTC
}

// NewSession contains information needed to open a new Session.
type NewSession struct {
	UserID    string
	Name      string
	Email     string
	UserAgent string
	IP        string
	Location  string
}

// Actor identifies who performs an admin operation.
type Actor struct {
	UserID    string
	SessionID string
}

type QueryFilter struct {
	UserID         string
	IncludeRevoked bool
	Limit          int
}

// DeviceClass derives a coarse device class from a User-Agent header.
func DeviceClass(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case ua == "":
		return DeviceUnknown
	case strings.Contains(ua, "ipad"), strings.Contains(ua, "tablet"),
		strings.Contains(ua, "android") && !strings.Contains(ua, "mobile"):
		return DeviceTablet
	case strings.Contains(ua, "mobi"), strings.Contains(ua, "iphone"), strings.Contains(ua, "ipod"):
		return DeviceMobile
	case strings.Contains(ua, "windows"), strings.Contains(ua, "macintosh"), strings.Contains(ua, "linux"),
		strings.Contains(ua, "x11"), strings.Contains(ua, "cros"):
		return DeviceDesktop
	default:
		return DeviceUnknown
	}
}
