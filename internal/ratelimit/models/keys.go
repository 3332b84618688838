package models

import "strings"

// Window store key scopes.
const (
	ScopeCatalog  = "catalog"
	ScopeClientIP = "api:ip"
)

// WindowKey joins scope and id into a window store key. Colons in id are
// replaced so a crafted id cannot land in another scope's window.
func WindowKey(scope, id string) string {
	return scope + ":" + strings.ReplaceAll(id, ":", "_")
}
