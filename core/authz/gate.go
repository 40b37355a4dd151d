package authz

import "strings"

type (
	MenuItem struct {
		Path       string     `json:"path"`
		Label      string     `json:"label"`
		Capability Capability `json:"capability"`
	}

	// Route maps a path prefix to the capability it requires.
	Route struct {
		Prefix     string     `json:"prefix"`
		Capability Capability `json:"capability"`
	}

	// Table is the static menu and route configuration of the admin panel.
	Table struct {
		Menu       []MenuItem
		Routes     []Route
		BackupPath string
	}

	// Input holds everything the gate decides on.
	Input struct {
		Role          string
		Permissions   Permissions
		MigrationMode bool // global toggle
		Path          string
	}

	Decision struct {
		Menu          []MenuItem `json:"menu"`
		Allowed       bool       `json:"allowed"`
		Route         *Route     `json:"route,omitempty"`
		Redirect      string     `json:"redirect,omitempty"`
		Fallback      string     `json:"fallback,omitempty"`
		MigrationMode bool       `json:"migration_mode"`
		SuperAdmin    bool       `json:"super_admin"`
	}
)

// DefaultTable returns the admin panel table; every menu entry doubles as a route.
func DefaultTable() Table {
	menu := []MenuItem{
		{Path: "/admin", Label: "Dashboard", Capability: CapDashboard},
		{Path: "/admin/events", Label: "Events", Capability: CapEvents},
		{Path: "/admin/students", Label: "Students", Capability: CapStudents},
		{Path: "/admin/news", Label: "News", Capability: CapNews},
		{Path: "/admin/courses", Label: "Courses", Capability: CapCourses},
		{Path: "/admin/placements", Label: "Placements", Capability: CapPlacements},
		{Path: "/admin/workshops", Label: "Workshops", Capability: CapWorkshops},
		{Path: "/admin/seo", Label: "SEO", Capability: CapSEO},
		{Path: "/admin/settings", Label: "Settings", Capability: CapSettings},
		{Path: "/admin/security", Label: "Security", Capability: CapSessions},
		{Path: "/admin/users", Label: "Users", Capability: CapUsers},
		{Path: "/admin/backup", Label: "Backup", Capability: CapBackup},
	}
	routes := make([]Route, len(menu))
	for i, item := range menu {
		routes[i] = Route{Prefix: item.Path, Capability: item.Capability}
	}
	return Table{Menu: menu, Routes: routes, BackupPath: "/admin/backup"}
}

// Match returns the route with the longest prefix matching path, or nil.
// Prefixes match on whole segments: `/admin/events` matches `/admin/events/1` but not `/admin/eventsx`.
func (t Table) Match(path string) *Route {
	path = NormalizePath(path)
	var best *Route
	for i := range t.Routes {
		r := &t.Routes[i]
		prefix := NormalizePath(r.Prefix)
		if !(path == prefix || strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/")) {
			continue
		}
		if best == nil || len(prefix) > len(NormalizePath(best.Prefix)) {
			best = r
		}
	}
	return best
}

// Evaluate is the authorization gate. It has no state besides its inputs.
func Evaluate(in Input, t Table) Decision {
	superAdmin := in.Role == RoleSuperAdmin
	unrestricted := superAdmin || in.Permissions.IsUnrestricted()
	migration := in.MigrationMode || in.Role == RoleMigration
	path := NormalizePath(in.Path)
	backup := NormalizePath(t.BackupPath)

	d := Decision{
		MigrationMode: migration,
		SuperAdmin:    superAdmin,
		Route:         t.Match(path),
	}

	switch {
	case migration:
		for _, item := range t.Menu {
			if item.Capability == CapBackup {
				d.Menu = append(d.Menu, item)
			}
		}
	case unrestricted:
		d.Menu = append(d.Menu, t.Menu...)
	default:
		for _, item := range t.Menu {
			if in.Permissions.Has(item.Capability) {
				d.Menu = append(d.Menu, item)
			}
		}
	}
	if d.Menu == nil {
		d.Menu = []MenuItem{}
	}

	switch {
	case migration && path == backup:
		d.Allowed = true
	case migration:
		d.Redirect = t.BackupPath
	case d.Route == nil, unrestricted:
		d.Allowed = true
	default:
		d.Allowed = in.Permissions.Has(d.Route.Capability)
	}

	if !d.Allowed && len(d.Menu) > 0 {
		d.Fallback = d.Menu[0].Path
	}
	return d
}

// NormalizePath drops the query, fragment and trailing slashes of an admin path.
func NormalizePath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if trimmed := strings.TrimRight(p, "/"); trimmed != "" {
		return trimmed
	}
	return "/"
}
