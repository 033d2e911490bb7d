package roles

import "time"

// Role groups menu grants for assignment to users.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateRoleRequest describes a role to create.
type CreateRoleRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=500"`
}

// SetMenusRequest replaces a role's menu grants with the given set.
type SetMenusRequest struct {
	MenuIDs []int64 `json:"menu_ids" validate:"required,dive,gt=0"`
}
