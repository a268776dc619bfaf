package models

import "strings"

// Role is the closed set of authorization roles. Stored role strings are
// free text; ParseRole maps them onto this set.
type Role string

const (
	RoleAdmin         Role = "Admin"
	RoleSafetyOfficer Role = "Safety Officer"
	RoleReporter      Role = "Reporter"
)

// ParseRole maps a stored role string to a Role. Unrecognized or empty values
// become RoleReporter so a malformed profile never gains privilege.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.Join(strings.Fields(s), " ")) {
	case "admin":
		return RoleAdmin
	case "safety officer", "safetyofficer":
		return RoleSafetyOfficer
	default:
		return RoleReporter
	}
}

// IsPrivileged reports whether the role may see and review every report.
func (r Role) IsPrivileged() bool {
	return r == RoleAdmin || r == RoleSafetyOfficer
}

func (r Role) String() string {
	return string(r)
}

// Principal is the authenticated caller as asserted by a verified token.
// Email is empty when the identity provider did not supply one.
type Principal struct {
	UID   string `json:"uid"`
	Email string `json:"email,omitempty"`
}

// Profile is the provisioned record for a principal.
type Profile struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  Role   `json:"role"`
}
