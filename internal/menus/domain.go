package menus

import "time"

// Kind distinguishes navigable pages from in-page actions.
type Kind string

const (
	KindPage   Kind = "page"
	KindAction Kind = "action"
)

// IsValid checks if the menu kind is valid.
func (k Kind) IsValid() bool {
	return k == KindPage || k == KindAction
}

// Menu is one permission target. Page menus form a tree through ParentID;
// action menus hang off a page and carry an action code.
type Menu struct {
	ID         int64     `json:"id"`
	Code       string    `json:"code"`
	Name       string    `json:"name"`
	Kind       Kind      `json:"kind"`
	ActionCode *string   `json:"action_code,omitempty"`
	ParentID   *int64    `json:"parent_id,omitempty"`
	Path       *string   `json:"path,omitempty"`
	SortOrder  int       `json:"sort_order"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TreeNode is a menu with its children attached for navigation payloads.
type TreeNode struct {
	Menu
	Children []*TreeNode `json:"children,omitempty"`
}

// CreateMenuRequest describes a menu to create.
type CreateMenuRequest struct {
	Code       string  `json:"code" validate:"required,max=100"`
	Name       string  `json:"name" validate:"required,max=200"`
	Kind       Kind    `json:"kind" validate:"required"`
	ActionCode *string `json:"action_code,omitempty"`
	ParentID   *int64  `json:"parent_id,omitempty"`
	Path       *string `json:"path,omitempty"`
	SortOrder  int     `json:"sort_order"`
}

// UpdateMenuRequest describes mutable menu fields.
type UpdateMenuRequest struct {
	Name      string  `json:"name" validate:"required,max=200"`
	Path      *string `json:"path,omitempty"`
	SortOrder int     `json:"sort_order"`
}
