package authz

// Roles
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleEditor     = "editor"
	RoleMigration  = "migration" // lockdown role: restricted to the backup page
)

var (
	rolePriorities = map[string]int{
		RoleSuperAdmin: 30,
		RoleAdmin:      20,
		RoleEditor:     10,
		RoleMigration:  5,
	}

	Roles = []Role{
		{Name: "Migration", Value: RoleMigration},
		{Name: "Editor", Value: RoleEditor},
		{Name: "Admin", Value: RoleAdmin},
		{Name: "Super Admin", Value: RoleSuperAdmin},
	}
)

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RolePriority ranks roles; custom roles rank lowest.
func RolePriority(role string) int {
	return rolePriorities[role]
}

func IsKnownRole(role string) bool {
	_, ok := rolePriorities[role]
	return ok
}
