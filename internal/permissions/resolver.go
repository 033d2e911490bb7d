package permissions

import (
	"sort"
	"time"
)

// key identifies one permission entry inside the merged set. Menu-level
// entries use an empty action code.
type key struct {
	menuCode   string
	actionCode string
}

// Resolve merges role-derived grants with user overrides into the effective
// permission set. Role grants form the baseline (granted, source "role");
// overrides that are active at the given instant are applied last and win on
// key collision, in either direction. Callers are expected to have handled
// the admin bypass before reaching this function: Resolve is a pure function
// of its inputs.
func Resolve(grants []RoleGrant, overrides []Override, now time.Time) []EffectivePermission {
	merged := make(map[key]EffectivePermission, len(grants)+len(overrides))

	for _, g := range grants {
		k := key{menuCode: g.MenuCode, actionCode: derefAction(g.ActionCode)}
		merged[k] = EffectivePermission{
			MenuID:     g.MenuID,
			MenuCode:   g.MenuCode,
			ActionCode: k.actionCode,
			Granted:    true,
			Source:     SourceRole,
		}
	}

	for _, o := range overrides {
		if !o.ActiveAt(now) {
			continue
		}
		k := key{menuCode: o.MenuCode, actionCode: derefAction(o.ActionCode)}
		merged[k] = EffectivePermission{
			MenuID:     o.MenuID,
			MenuCode:   o.MenuCode,
			ActionCode: k.actionCode,
			Granted:    o.Type == TypeGrant,
			Source:     SourceOverride,
			ExpiresAt:  o.ExpiresAt,
		}
	}

	result := make([]EffectivePermission, 0, len(merged))
	for _, p := range merged {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].MenuCode != result[j].MenuCode {
			return result[i].MenuCode < result[j].MenuCode
		}
		return result[i].ActionCode < result[j].ActionCode
	})
	return result
}

// GrantedSet reduces an effective permission set to the granted codes, in the
// "menuCode" or "menuCode:actionCode" form used by authorization checks.
func GrantedSet(perms []EffectivePermission) map[string]struct{} {
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		if !p.Granted {
			continue
		}
		code := p.MenuCode
		if p.ActionCode != "" {
			code = p.MenuCode + ":" + p.ActionCode
		}
		set[code] = struct{}{}
	}
	return set
}

func derefAction(code *string) string {
	if code == nil {
		return ""
	}
	return *code
}
