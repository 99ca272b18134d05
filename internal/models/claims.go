package models

import "github.com/golang-jwt/jwt/v5"

// Caller roles
const (
	RoleSubscriber = "subscriber"
	RoleOperator   = "operator"
	RoleSystem     = "system"
)

// Caller permissions
const (
	PermissionTransferWrite = "transfer:write"
	PermissionTransferRead  = "transfer:read"
	PermissionTransferAdmin = "transfer:admin"
)

// CallerClaims identifies the channel or agent calling the transfer API.
type CallerClaims struct {
	jwt.RegisteredClaims
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Channel     string   `json:"channel,omitempty"`
}

// CallerID is the token subject.
func (c *CallerClaims) CallerID() string { return c.Subject }

// HasPermission checks if the claims include a specific permission
func (c *CallerClaims) HasPermission(permission string) bool {
	for _, p := range c.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// HasRole reports whether role was granted.
func (c *CallerClaims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// GetDefaultPermissions returns default permissions based on role
func GetDefaultPermissions(role string) []string {
	switch role {
	case RoleOperator, RoleSystem:
		return []string{PermissionTransferWrite, PermissionTransferRead, PermissionTransferAdmin}
	case RoleSubscriber:
		return []string{PermissionTransferWrite, PermissionTransferRead}
	default:
		return []string{}
	}
}
