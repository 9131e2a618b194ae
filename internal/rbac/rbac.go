// Package rbac maps household roles to allowed actions. Guests can read and
// comment, members can also edit documents, owners additionally manage the
// household itself.
package rbac

type Role string
type Action string

const (
	RoleGuest  Role = "guest"
	RoleMember Role = "member"
	RoleOwner  Role = "owner"
)

const (
	ActionRead    Action = "read"
	ActionComment Action = "comment"
	ActionWrite   Action = "write"
	ActionManage  Action = "manage"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleMember:
		return action == ActionRead || action == ActionComment || action == ActionWrite
	case RoleGuest:
		return action == ActionRead || action == ActionComment
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleGuest, RoleMember, RoleOwner:
		return Role(role)
	default:
		return RoleGuest
	}
}
