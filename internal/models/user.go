package models

import (
	"time"

	"github.com/uptrace/bun"
)

// User roles. Creating a group booking requires the operator role.
const (
	RoleUser     = "user"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

type User struct {
	bun.BaseModel `bun:"table:users"`

	ID        string    `bun:"id,pk" json:"id"`
	Email     string    `bun:"email,unique,notnull" json:"email"`
	FullName  string    `bun:"full_name,notnull" json:"full_name"`
	Role      string    `bun:"role,notnull" json:"role"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
}
