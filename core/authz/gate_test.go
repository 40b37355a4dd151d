package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func menuPaths(items []MenuItem) []string {
	paths := make([]string, len(items))
	for i, item := range items {
		paths[i] = item.Path
	}
	return paths
}

func TestTable_Match(t *testing.T) {
	table := DefaultTable()

	tests := []struct {
		name       string
		path       string
		wantPrefix string
	}{
		{name: "root of admin", path: "/admin", wantPrefix: "/admin"},
		{name: "trailing slash", path: "/admin/", wantPrefix: "/admin"},
		{name: "exact child", path: "/admin/events", wantPrefix: "/admin/events"},
		{name: "nested child", path: "/admin/events/42/edit", wantPrefix: "/admin/events"},
		{name: "query is ignored", path: "/admin/news?page=2", wantPrefix: "/admin/news"},
		{name: "segment aware", path: "/admin/eventsx", wantPrefix: "/admin"},
		{name: "security page", path: "/admin/security", wantPrefix: "/admin/security"},
		{name: "unmapped", path: "/about"},
		{name: "admin-like prefix", path: "/administrator"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			route := table.Match(tt.path)
			if tt.wantPrefix == "" {
				assert.Nil(t, route)
				return
			}
			require.NotNil(t, route)
			assert.Equal(t, tt.wantPrefix, route.Prefix)
		})
	}
}

func TestEvaluate(t *testing.T) {
	table := DefaultTable()
	allPaths := menuPaths(table.Menu)

	tests := []struct {
		name         string
		in           Input
		wantAllowed  bool
		wantMenu     []string
		wantRedirect string
		wantFallback string
	}{
		{
			name:        "super admin everywhere",
			in:          Input{Role: RoleSuperAdmin, Path: "/admin/users"},
			wantAllowed: true, wantMenu: allPaths,
		},
		{
			name:        "all sentinel",
			in:          Input{Role: RoleEditor, Permissions: Unrestricted(), Path: "/admin/settings"},
			wantAllowed: true, wantMenu: allPaths,
		},
		{
			name:         "editor denied on students",
			in:           Input{Role: RoleEditor, Permissions: Scoped(CapEvents, CapNews), Path: "/admin/students"},
			wantMenu:     []string{"/admin/events", "/admin/news"},
			wantFallback: "/admin/events",
		},
		{
			name:        "longest prefix wins",
			in:          Input{Role: RoleEditor, Permissions: Scoped(CapEvents), Path: "/admin/events/3"},
			wantAllowed: true, wantMenu: []string{"/admin/events"},
		},
		{
			name:         "ancestor route needs its own capability",
			in:           Input{Role: RoleEditor, Permissions: Scoped(CapEvents), Path: "/admin"},
			wantMenu:     []string{"/admin/events"},
			wantFallback: "/admin/events",
		},
		{
			name:        "unmapped path is granted",
			in:          Input{Role: RoleEditor, Path: "/"},
			wantAllowed: true, wantMenu: []string{},
		},
		{
			name:     "nothing permitted has no fallback",
			in:       Input{Role: "viewer", Path: "/admin/news"},
			wantMenu: []string{},
		},
		{
			name:         "migration toggle redirects editor",
			in:           Input{Role: RoleEditor, Permissions: Scoped(CapEvents), MigrationMode: true, Path: "/admin/events"},
			wantMenu:     []string{"/admin/backup"},
			wantRedirect: "/admin/backup",
			wantFallback: "/admin/backup",
		},
		{
			name:        "migration toggle grants backup without capability",
			in:          Input{Role: RoleEditor, Permissions: Scoped(CapEvents), MigrationMode: true, Path: "/admin/backup/"},
			wantAllowed: true, wantMenu: []string{"/admin/backup"},
		},
		{
			name:         "migration toggle redirects super admin",
			in:           Input{Role: RoleSuperAdmin, Permissions: Unrestricted(), MigrationMode: true, Path: "/admin/users"},
			wantMenu:     []string{"/admin/backup"},
			wantRedirect: "/admin/backup",
			wantFallback: "/admin/backup",
		},
		{
			name:         "migration role",
			in:           Input{Role: RoleMigration, Path: "/admin"},
			wantMenu:     []string{"/admin/backup"},
			wantRedirect: "/admin/backup",
			wantFallback: "/admin/backup",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(tt.in, table)
			assert.Equal(t, tt.wantAllowed, d.Allowed, "allowed")
			assert.Equal(t, tt.wantMenu, menuPaths(d.Menu), "menu")
			assert.Equal(t, tt.wantRedirect, d.Redirect, "redirect")
			assert.Equal(t, tt.wantFallback, d.Fallback, "fallback")
			assert.Equal(t, tt.in.Role == RoleSuperAdmin, d.SuperAdmin)
			assert.Equal(t, tt.in.MigrationMode || tt.in.Role == RoleMigration, d.MigrationMode)
		})
	}
}

func TestEvaluate_IsPure(t *testing.T) {
	in := Input{Role: RoleEditor, Permissions: Scoped(CapNews), Path: "/admin/news"}
	assert.Equal(t, Evaluate(in, DefaultTable()), Evaluate(in, DefaultTable()))
}
