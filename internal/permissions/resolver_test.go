package permissions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strptr(s string) *string { return &s }

func timeptr(t time.Time) *time.Time { return &t }

func TestResolveEmptyInputs(t *testing.T) {
	perms := Resolve(nil, nil, time.Now())
	assert.Empty(t, perms)
}

func TestResolveRoleBaseline(t *testing.T) {
	now := time.Now()
	grants := []RoleGrant{
		{MenuID: 1, MenuCode: "reports"},
		{MenuID: 2, MenuCode: "admin", ActionCode: strptr("export")},
	}

	perms := Resolve(grants, nil, now)
	require.Len(t, perms, 2)

	for _, p := range perms {
		assert.True(t, p.Granted)
		assert.Equal(t, SourceRole, p.Source)
	}
}

func TestResolveDenyOverrideWins(t *testing.T) {
	now := time.Now()
	grants := []RoleGrant{{MenuID: 1, MenuCode: "reports"}}
	overrides := []Override{{
		ID:       10,
		MenuID:   1,
		MenuCode: "reports",
		Type:     TypeDeny,
		Level:    LevelMenu,
		Active:   true,
	}}

	perms := Resolve(grants, overrides, now)
	require.Len(t, perms, 1)
	assert.False(t, perms[0].Granted)
	assert.Equal(t, SourceOverride, perms[0].Source)
}

func TestResolveGrantOverrideAddsPermission(t *testing.T) {
	now := time.Now()
	overrides := []Override{{
		MenuID:   3,
		MenuCode: "audit",
		Type:     TypeGrant,
		Level:    LevelMenu,
		Active:   true,
	}}

	perms := Resolve(nil, overrides, now)
	require.Len(t, perms, 1)
	assert.True(t, perms[0].Granted)
	assert.Equal(t, SourceOverride, perms[0].Source)
}

func TestResolveExpiredOverrideIgnored(t *testing.T) {
	now := time.Now()
	grants := []RoleGrant{{MenuID: 1, MenuCode: "reports"}}
	overrides := []Override{{
		MenuID:    1,
		MenuCode:  "reports",
		Type:      TypeDeny,
		Level:     LevelMenu,
		Active:    true,
		ExpiresAt: timeptr(now.Add(-time.Hour)),
	}}

	perms := Resolve(grants, overrides, now)
	require.Len(t, perms, 1)
	assert.True(t, perms[0].Granted)
	assert.Equal(t, SourceRole, perms[0].Source)
}

func TestResolveExpiryBoundaryIsExclusive(t *testing.T) {
	now := time.Now()
	overrides := []Override{{
		MenuID:    1,
		MenuCode:  "reports",
		Type:      TypeGrant,
		Level:     LevelMenu,
		Active:    true,
		ExpiresAt: timeptr(now),
	}}

	// An override expiring exactly now is no longer effective.
	perms := Resolve(nil, overrides, now)
	assert.Empty(t, perms)
}

func TestResolveInactiveOverrideIgnored(t *testing.T) {
	overrides := []Override{{
		MenuID:   1,
		MenuCode: "reports",
		Type:     TypeGrant,
		Level:    LevelMenu,
		Active:   false,
	}}

	perms := Resolve(nil, overrides, time.Now())
	assert.Empty(t, perms)
}

func TestResolveActionLevelIndependentOfMenuLevel(t *testing.T) {
	now := time.Now()
	grants := []RoleGrant{
		{MenuID: 1, MenuCode: "reports"},
		{MenuID: 1, MenuCode: "reports", ActionCode: strptr("export")},
	}
	overrides := []Override{{
		MenuID:     1,
		MenuCode:   "reports",
		Type:       TypeDeny,
		Level:      LevelAction,
		ActionCode: strptr("export"),
		Active:     true,
	}}

	perms := Resolve(grants, overrides, now)
	require.Len(t, perms, 2)

	set := GrantedSet(perms)
	_, menuGranted := set["reports"]
	_, actionGranted := set["reports:export"]
	assert.True(t, menuGranted)
	assert.False(t, actionGranted)
}

func TestResolveDeterministicOrder(t *testing.T) {
	now := time.Now()
	grants := []RoleGrant{
		{MenuID: 2, MenuCode: "b"},
		{MenuID: 1, MenuCode: "a", ActionCode: strptr("y")},
		{MenuID: 1, MenuCode: "a", ActionCode: strptr("x")},
	}

	perms := Resolve(grants, nil, now)
	require.Len(t, perms, 3)
	assert.Equal(t, "a", perms[0].MenuCode)
	assert.Equal(t, "x", perms[0].ActionCode)
	assert.Equal(t, "y", perms[1].ActionCode)
	assert.Equal(t, "b", perms[2].MenuCode)
}

func TestGrantedSetSkipsDenied(t *testing.T) {
	perms := []EffectivePermission{
		{MenuCode: "reports", Granted: true},
		{MenuCode: "admin", Granted: false},
		{MenuCode: "reports", ActionCode: "export", Granted: true},
	}

	set := GrantedSet(perms)
	assert.Len(t, set, 2)
	assert.Contains(t, set, "reports")
	assert.Contains(t, set, "reports:export")
	assert.NotContains(t, set, "admin")
}
