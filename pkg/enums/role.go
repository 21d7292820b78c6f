package enums

import "fmt"

// Role maps to the user_role_enum enum in Postgres.
type Role string

const (
	RoleFarmer Role = "farmer"
	RoleTrader Role = "trader"
	RoleBuyer  Role = "buyer"
	RoleAdmin  Role = "admin"
)

var validRoles = []Role{
	RoleFarmer,
	RoleTrader,
	RoleBuyer,
	RoleAdmin,
}

// IsValid reports whether the value matches the canonical role enum.
func (r Role) IsValid() bool {
	for _, candidate := range validRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRole converts raw input into Role.
func ParseRole(value string) (Role, error) {
	for _, candidate := range validRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid role %q", value)
}
