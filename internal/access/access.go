// Package access decides which roles may perform which operations.
//
// Authentication belongs to the gateway in front of the service; it forwards
// the caller's role in the X-User-Role header.
package access

import (
	"context"
	"net/http"
	"strings"

	"github.com/aristath/marketcore/internal/httpjson"
)

// RoleHeader carries the caller's role.
const RoleHeader = "X-User-Role"

// Role is a caller's access level.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleUser    Role = "user"
	RoleViewer  Role = "viewer"
)

// Action is a guarded operation.
type Action string

const (
	ActionView          Action = "view"
	ActionTrade         Action = "trade"
	ActionWorkerControl Action = "worker_control"
	ActionAdmin         Action = "admin"
)

var permissions = map[Role]map[Action]bool{
	RoleAdmin:   {ActionView: true, ActionTrade: true, ActionWorkerControl: true, ActionAdmin: true},
	RoleManager: {ActionView: true, ActionTrade: true, ActionWorkerControl: true},
	RoleUser:    {ActionView: true, ActionTrade: true},
	RoleViewer:  {ActionView: true},
}

// ParseRole normalizes a header value. ok is false for unknown roles.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	_, ok := permissions[r]
	return r, ok
}

// Permitted reports whether role may perform action.
func Permitted(role Role, action Action) bool {
	return permissions[role][action]
}

type ctxKey struct{}

// RoleFrom returns the role stored by Require.
func RoleFrom(ctx context.Context) (Role, bool) {
	r, ok := ctx.Value(ctxKey{}).(Role)
	return r, ok
}

// Require rejects requests whose role may not perform action: 401 without a
// role, 403 with an unknown or insufficient one.
func Require(action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(RoleHeader)
			if raw == "" {
				_ = httpjson.Error(w, http.StatusUnauthorized, "missing "+RoleHeader)
				return
			}
			role, ok := ParseRole(raw)
			if !ok || !Permitted(role, action) {
				_ = httpjson.Error(w, http.StatusForbidden, "permission denied: "+string(action))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, role)))
		})
	}
}
