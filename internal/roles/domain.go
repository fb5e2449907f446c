package roles

// Role summarises one rung of the hierarchy for the roles page.
type Role struct {
	Name        string
	Level       int
	Description string
	Permissions []string
	Users       int
}

// PermissionCount returns how many permissions the role holds.
func (r Role) PermissionCount() int {
	return len(r.Permissions)
}
