package user

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/authz"
)

func found(p Profile) core.Snapshot[Profile] { return core.Snapshot[Profile]{Value: p, Found: true} }

var (
	missing   = core.Snapshot[Profile]{}
	readError = core.Snapshot[Profile]{Err: errors.New("connection reset")}
)

func TestProfileSync_Apply(t *testing.T) {
	core.Conf.SuperAdminEmail = "owner@campus.test"
	defer func() { core.Conf.SuperAdminEmail = "" }()

	editor := Profile{UserID: "u1", Role: authz.RoleEditor, Permissions: authz.Scoped(authz.CapEvents)}
	promoted := Profile{UserID: "u1", Role: authz.RoleEditor, Permissions: authz.Scoped(authz.CapEvents, authz.CapNews)}

	tests := []struct {
		name     string
		email    string
		snaps    []core.Snapshot[Profile]
		want     []SyncOutcome
		wantProf *Profile
	}{
		{
			name:     "first profile",
			email:    "jane@campus.test",
			snaps:    []core.Snapshot[Profile]{found(editor)},
			want:     []SyncOutcome{SyncChanged},
			wantProf: &editor,
		},
		{
			name:     "same profile again",
			email:    "jane@campus.test",
			snaps:    []core.Snapshot[Profile]{found(editor), found(editor)},
			want:     []SyncOutcome{SyncChanged, SyncUnchanged},
			wantProf: &editor,
		},
		{
			name:     "permissions changed",
			email:    "jane@campus.test",
			snaps:    []core.Snapshot[Profile]{found(editor), found(promoted)},
			want:     []SyncOutcome{SyncChanged, SyncChanged},
			wantProf: &promoted,
		},
		{
			name:     "read error keeps cache",
			email:    "jane@campus.test",
			snaps:    []core.Snapshot[Profile]{found(editor), readError},
			want:     []SyncOutcome{SyncChanged, SyncUnchanged},
			wantProf: &editor,
		},
		{
			name:  "missing logs out exactly once",
			email: "jane@campus.test",
			snaps: []core.Snapshot[Profile]{found(editor), missing, missing, found(editor)},
			want:  []SyncOutcome{SyncChanged, SyncLogout, SyncUnchanged, SyncUnchanged},
		},
		{
			name:     "super admin without profile",
			email:    "Owner@Campus.test",
			snaps:    []core.Snapshot[Profile]{missing},
			want:     []SyncOutcome{SyncChanged},
			wantProf: func() *Profile { p := SuperAdminProfile("u1"); return &p }(),
		},
		{
			name:     "super admin read error",
			email:    "owner@campus.test",
			snaps:    []core.Snapshot[Profile]{readError, missing},
			want:     []SyncOutcome{SyncChanged, SyncUnchanged},
			wantProf: func() *Profile { p := SuperAdminProfile("u1"); return &p }(),
		},
		{
			name:     "super admin stored profile wins",
			email:    "owner@campus.test",
			snaps:    []core.Snapshot[Profile]{missing, found(editor)},
			want:     []SyncOutcome{SyncChanged, SyncChanged},
			wantProf: &editor,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps := NewProfileSync("u1", tt.email)
			got := make([]SyncOutcome, 0, len(tt.snaps))
			for _, snap := range tt.snaps {
				got = append(got, ps.Apply(snap))
			}
			assert.Equal(t, tt.want, got)

			prof, ok := ps.Profile()
			if tt.wantProf == nil {
				assert.False(t, ok)
				return
			}
			assert.True(t, ok)
			assert.True(t, tt.wantProf.Equal(prof), "got %+v", prof)
		})
	}
}

func TestSuperAdminProfile(t *testing.T) {
	p := SuperAdminProfile("u1")
	assert.Equal(t, authz.RoleSuperAdmin, p.Role)
	assert.True(t, p.Permissions.IsUnrestricted())
	assert.True(t, p.Synthesized)
	assert.NotEqual(t, authz.RoleMigration, p.Role)
}

func TestIsSuperAdminEmail(t *testing.T) {
	core.Conf.SuperAdminEmail = ""
	assert.False(t, IsSuperAdminEmail(""))
	assert.False(t, IsSuperAdminEmail("owner@campus.test"))

	core.Conf.SuperAdminEmail = "owner@campus.test"
	defer func() { core.Conf.SuperAdminEmail = "" }()
	assert.True(t, IsSuperAdminEmail(" OWNER@campus.test "))
	assert.False(t, IsSuperAdminEmail("jane@campus.test"))
}
