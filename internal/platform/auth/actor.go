package auth

import (
	"strings"

	"github.com/gin-gonic/gin"
)

type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleStaff   Role = "STAFF"
	RoleFaculty Role = "FACULTY"
)

// ParseRole はトークン内の大文字小文字の揺れを吸収する。未知のロールは空
func ParseRole(s string) Role {
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RoleStudent, RoleStaff, RoleFaculty:
		return r
	default:
		return ""
	}
}

// Actor は検証済みトークンから得た呼び出し元
type Actor struct {
	UserID string
	Role   Role
}

func (a Actor) IsStaffOrFaculty() bool {
	return a.Role == RoleStaff || a.Role == RoleFaculty
}

const (
	CtxUserIDKey = "user_id"
	CtxRoleKey   = "role"
)

// ActorFrom は RequireAuth が詰めた値を取り出す
func ActorFrom(c *gin.Context) (Actor, bool) {
	uid := c.GetString(CtxUserIDKey)
	if uid == "" {
		return Actor{}, false
	}
	return Actor{UserID: uid, Role: ParseRole(c.GetString(CtxRoleKey))}, true
}
