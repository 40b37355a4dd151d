package user

import (
	"strings"
	"time"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/authz"
)

// Profile holds the role and permissions of a user. A user may have none.
type Profile struct {
	UserID      string            `db:"user_id" json:"user_id"`
	Role        string            `db:"role" json:"role"`
	Permissions authz.Permissions `db:"permissions" json:"permissions"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"` // UTC

	// Synthesized is set on the in-memory super admin profile; it is never stored.
	Synthesized bool `db:"-" json:"synthesized,omitempty"`
}

func (p Profile) Equal(o Profile) bool {
	return p.UserID == o.UserID &&
		p.Role == o.Role &&
		p.Permissions.Equal(o.Permissions) &&
		p.Synthesized == o.Synthesized
}

// IsSuperAdminEmail reports whether email is the configured super admin email.
func IsSuperAdminEmail(email string) bool {
	sa := core.Conf.SuperAdminEmail
	return sa != "" && strings.EqualFold(strings.TrimSpace(email), sa)
}

// SuperAdminProfile is the in-memory profile granted to the super admin when its own cannot be read.
func SuperAdminProfile(userID string) Profile {
	return Profile{
		UserID:      userID,
		Role:        authz.RoleSuperAdmin,
		Permissions: authz.Unrestricted(),
		Synthesized: true,
	}
}

type SyncOutcome int

const (
	SyncUnchanged SyncOutcome = iota
	SyncChanged
	SyncLogout
)

func (o SyncOutcome) String() string {
	switch o {
	case SyncChanged:
		return "changed"
	case SyncLogout:
		return "logout"
	default:
		return "unchanged"
	}
}

// ProfileSync keeps a cached profile consistent with the snapshots of the stored one.
//   - a stored profile replaces the cache when it differs;
//   - a missing profile logs out everybody but the super admin, who gets SuperAdminProfile;
//   - a read error leaves the cache untouched, except for the super admin.
//
// The logout outcome is reported once; afterwards every snapshot is ignored.
type ProfileSync struct {
	userID    string
	email     string
	cached    *Profile
	loggedOut bool
}

func NewProfileSync(userID, email string) *ProfileSync {
	return &ProfileSync{userID: userID, email: email}
}

func (ps *ProfileSync) Apply(snap core.Snapshot[Profile]) SyncOutcome {
	if ps.loggedOut {
		return SyncUnchanged
	}

	switch {
	case snap.Found:
		return ps.set(snap.Value)
	case IsSuperAdminEmail(ps.email):
		return ps.set(SuperAdminProfile(ps.userID))
	case snap.Err != nil:
		return SyncUnchanged
	default:
		ps.cached = nil
		ps.loggedOut = true
		return SyncLogout
	}
}

func (ps *ProfileSync) set(p Profile) SyncOutcome {
	if ps.cached != nil && ps.cached.Equal(p) {
		return SyncUnchanged
	}
	ps.cached = &p
	return SyncChanged
}

// Profile returns the cached profile, if any.
func (ps *ProfileSync) Profile() (Profile, bool) {
	if ps.cached == nil {
		return Profile{}, false
	}
	return *ps.cached, true
}

func (ps *ProfileSync) LoggedOut() bool { return ps.loggedOut }
