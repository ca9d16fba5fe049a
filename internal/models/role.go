package models

import (
	"encoding/json"
	"fmt"
)

// Role is the closed set of actor kinds known to the engine.
type Role uint8

const (
	RoleBuyer Role = iota + 1
	RoleVendor
	RoleAdministrator
)

func (r Role) String() string {
	switch r {
	case RoleBuyer:
		return "buyer"
	case RoleVendor:
		return "vendor"
	case RoleAdministrator:
		return "administrator"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// ParseRole converts the stored user_type value into a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "buyer":
		return RoleBuyer, nil
	case "vendor":
		return RoleVendor, nil
	case "administrator":
		return RoleAdministrator, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}

func (r Role) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
