package permissions

import "time"

// PermissionType states whether an override grants or denies access.
type PermissionType string

const (
	TypeGrant PermissionType = "grant"
	TypeDeny  PermissionType = "deny"
)

// IsValid checks if the permission type is valid.
func (t PermissionType) IsValid() bool {
	return t == TypeGrant || t == TypeDeny
}

// PermissionLevel states whether an override targets a whole menu or a single action.
type PermissionLevel string

const (
	LevelMenu   PermissionLevel = "menu"
	LevelAction PermissionLevel = "action"
)

// IsValid checks if the permission level is valid.
func (l PermissionLevel) IsValid() bool {
	return l == LevelMenu || l == LevelAction
}

// PermissionSource tags where an effective permission came from.
type PermissionSource string

const (
	SourceRole     PermissionSource = "role"
	SourceOverride PermissionSource = "override"
)

// HistoryAction identifies the kind of override mutation a history entry records.
type HistoryAction string

const (
	ActionCreate HistoryAction = "create"
	ActionUpdate HistoryAction = "update"
	ActionDelete HistoryAction = "delete"
)

// Override is a user-specific permission grant or denial that takes
// precedence over role-derived defaults. Expiry is evaluated at read
// time; expired rows stay in place until the cleanup sweep deactivates them.
type Override struct {
	ID         int64           `json:"id"`
	UserID     int64           `json:"user_id"`
	MenuID     int64           `json:"menu_id"`
	MenuCode   string          `json:"menu_code"`
	Type       PermissionType  `json:"type"`
	Level      PermissionLevel `json:"level"`
	ActionCode *string         `json:"action_code,omitempty"`
	GrantedBy  int64           `json:"granted_by"`
	GrantedAt  time.Time       `json:"granted_at"`
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"`
	Reason     *string         `json:"reason,omitempty"`
	Active     bool            `json:"active"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// ActiveAt reports whether the override is effective at the given instant.
func (o Override) ActiveAt(now time.Time) bool {
	if !o.Active {
		return false
	}
	if o.ExpiresAt == nil {
		return true
	}
	return o.ExpiresAt.After(now)
}

// RoleGrant is one (menu, action) pair reachable through any of the user's
// roles. Rows exist only for active menus.
type RoleGrant struct {
	MenuID     int64
	MenuCode   string
	ActionCode *string
}

// EffectivePermission is one entry of a user's resolved permission set.
type EffectivePermission struct {
	MenuID     int64            `json:"menu_id"`
	MenuCode   string           `json:"menu_code"`
	ActionCode string           `json:"action_code,omitempty"`
	Granted    bool             `json:"granted"`
	Source     PermissionSource `json:"source"`
	ExpiresAt  *time.Time       `json:"expires_at,omitempty"`
}

// GrantSpec describes one override to create.
type GrantSpec struct {
	UserID     int64           `json:"user_id" validate:"required,gt=0"`
	MenuID     int64           `json:"menu_id" validate:"required,gt=0"`
	Type       PermissionType  `json:"type"`
	Level      PermissionLevel `json:"level"`
	ActionCode *string         `json:"action_code,omitempty"`
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"`
	Reason     *string         `json:"reason,omitempty"`
}

// Batch item statuses.
const (
	BatchStatusCreated = "created"
	BatchStatusExists  = "exists"
	BatchStatusFailed  = "failed"
)

// BatchItemResult reports the outcome of one spec within a batch grant.
type BatchItemResult struct {
	MenuID     int64   `json:"menu_id"`
	ActionCode *string `json:"action_code,omitempty"`
	Status     string  `json:"status"`
	OverrideID int64   `json:"override_id,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// BatchResult collects the per-item outcomes of a batch grant.
type BatchResult struct {
	BatchID string            `json:"batch_id"`
	Results []BatchItemResult `json:"results"`
}

// HistoryEntry is an immutable record of one override mutation.
type HistoryEntry struct {
	ID         int64           `json:"id"`
	OverrideID *int64          `json:"override_id,omitempty"`
	UserID     int64           `json:"user_id"`
	MenuID     int64           `json:"menu_id"`
	MenuCode   string          `json:"menu_code,omitempty"`
	Type       PermissionType  `json:"type"`
	Level      PermissionLevel `json:"level"`
	ActionCode *string         `json:"action_code,omitempty"`
	Action     HistoryAction   `json:"action"`
	OldValue   *string         `json:"old_value,omitempty"`
	NewValue   *string         `json:"new_value,omitempty"`
	Reason     *string         `json:"reason,omitempty"`
	OperatorID int64           `json:"operator_id"`
	OperatedAt time.Time       `json:"operated_at"`
}

// HistoryFilters narrows a history query. Zero values mean "no filter".
type HistoryFilters struct {
	UserID     int64
	MenuID     *int64
	ActionCode *string
	From       time.Time
	To         time.Time
	Page       int
	PageSize   int
}
