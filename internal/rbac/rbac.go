package rbac

type Role string
type Action string

const (
	RoleMember Role = "member"
	RoleStaff  Role = "staff"
	RoleAdmin  Role = "admin"
)

const (
	// ActionView and ActionEdit apply to the session's own member record.
	ActionView   Action = "view"
	ActionEdit   Action = "edit"
	ActionLookup Action = "lookup"
	ActionAdmin  Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleStaff:
		return action == ActionLookup
	case RoleMember:
		return action == ActionView || action == ActionEdit
	default:
		return false
	}
}

// Normalize maps unknown roles to member, the least privileged role.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleMember, RoleStaff, RoleAdmin:
		return Role(role)
	default:
		return RoleMember
	}
}
