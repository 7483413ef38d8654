package rbac

type Role string
type Action string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

const (
	// ActionRead covers listing spaces, reading page trees and search.
	ActionRead Action = "read"
	// ActionWrite covers creating, moving, deleting pages and covers.
	ActionWrite Action = "write"
	// ActionAdmin covers workspace-level changes such as imports.
	ActionAdmin Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionWrite
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}

// Higher returns the stronger of two roles.
func Higher(a, b Role) Role {
	if rank(b) > rank(a) {
		return b
	}
	return a
}

func rank(role Role) int {
	switch role {
	case RoleAdmin:
		return 3
	case RoleEditor:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}
