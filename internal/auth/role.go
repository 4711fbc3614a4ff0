package auth

import "fmt"

// Role 보드 권한 등급 (낮은 순: view < comment < edit)
type Role string

const (
	RoleView    Role = "view"    // receive ops and presence only
	RoleComment Role = "comment" // view + CRUD on comment objects
	RoleEdit    Role = "edit"    // all operations
)

// ParseRole 역할 문자열 검증
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleView, RoleComment, RoleEdit:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

var commentOpTypes = map[string]bool{
	"createObject": true,
	"updateObject": true,
	"deleteObject": true,
}

// IsOpAllowed reports whether a role may submit a durable op.
// objectType is the type of the target object: the payload's objectType for
// createObject, the live object's type for updateObject/deleteObject. Comment
// role is denied when the target type is unknown (missing object) so a
// commenter can never touch anything that is not provably a comment.
func IsOpAllowed(role Role, opType, objectType string) bool {
	switch role {
	case RoleEdit:
		return true
	case RoleView:
		return false
	case RoleComment:
		return commentOpTypes[opType] && objectType == "comment"
	}
	return false
}

// CanSendPresence view 역할은 presence 수신만 가능
func CanSendPresence(role Role) bool {
	return role != RoleView
}

// CanSendHybrid 텍스트 CRDT 업데이트는 edit 역할만
func CanSendHybrid(role Role) bool {
	return role == RoleEdit
}
