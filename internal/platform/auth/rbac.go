package auth

import (
	"errors"
	"net/http"
	"strings"
)

var ErrForbidden = errors.New("forbidden")

const (
	RoleViewer = "viewer"
	RoleEditor = "editor"
	RoleAdmin  = "admin"
)

var roleLevels = map[string]int{
	RoleViewer: 1,
	RoleEditor: 2,
	RoleAdmin:  3,
}

func HasAtLeast(roles []string, required string) bool {
	requiredLevel := roleLevels[strings.ToLower(required)]
	if requiredLevel == 0 {
		return false
	}
	maxLevel := 0
	for _, role := range roles {
		level := roleLevels[strings.ToLower(strings.TrimSpace(role))]
		if level > maxLevel {
			maxLevel = level
		}
	}
	return maxLevel >= requiredLevel
}

// RequiredRoleForRequest maps a request onto the minimum role. Reads need
// viewer, labeler lifecycle changes (mode, enabled) need admin, any other
// mutation needs editor.
func RequiredRoleForRequest(r *http.Request) string {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return RoleViewer
	}
	path := strings.TrimSuffix(r.URL.Path, "/")
	if strings.HasPrefix(path, "/labelers/") && (strings.HasSuffix(path, "/mode") || strings.HasSuffix(path, "/enabled")) {
		return RoleAdmin
	}
	return RoleEditor
}

func MethodRoleAuthorizer() AuthorizeFunc {
	return func(r *http.Request, identity Identity) error {
		if HasAtLeast(identity.Roles, RequiredRoleForRequest(r)) {
			return nil
		}
		return ErrForbidden
	}
}
