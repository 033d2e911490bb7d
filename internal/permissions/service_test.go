package permissions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmsqa/permcore/internal/shared"
)

type mockRepository struct {
	grants    map[int64][]RoleGrant
	overrides map[int64]*Override
	history   []HistoryEntry
	users     map[int64]bool
	menus     map[int64]string
	nextID    int64

	// Error injection
	roleGrantsErr      error
	activeOverridesErr error
	roleGrantsFails    int
	txErr              error
	insertOverrideErr  error
	insertHistoryErr   error
	historyErr         error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		grants:    make(map[int64][]RoleGrant),
		overrides: make(map[int64]*Override),
		users:     make(map[int64]bool),
		menus:     make(map[int64]string),
		nextID:    1,
	}
}

func (m *mockRepository) RoleGrants(ctx context.Context, userID int64) ([]RoleGrant, error) {
	if m.roleGrantsFails > 0 {
		m.roleGrantsFails--
		return nil, shared.ErrUnavailable
	}
	if m.roleGrantsErr != nil {
		return nil, m.roleGrantsErr
	}
	return m.grants[userID], nil
}

func (m *mockRepository) ActiveOverrides(ctx context.Context, userID int64, now time.Time) ([]Override, error) {
	if m.activeOverridesErr != nil {
		return nil, m.activeOverridesErr
	}
	var out []Override
	for _, o := range m.overrides {
		if o.UserID == userID && o.ActiveAt(now) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *mockRepository) ListOverrides(ctx context.Context, userID int64) ([]Override, error) {
	var out []Override
	for _, o := range m.overrides {
		if o.UserID == userID && o.Active {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *mockRepository) GetOverride(ctx context.Context, id int64) (*Override, error) {
	o, ok := m.overrides[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockRepository) FindEquivalentActive(ctx context.Context, userID, menuID int64, level PermissionLevel, actionCode *string) (*Override, error) {
	for _, o := range m.overrides {
		if o.UserID == userID && o.MenuID == menuID && o.Level == level && o.Active &&
			derefAction(o.ActionCode) == derefAction(actionCode) {
			cp := *o
			return &cp, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *mockRepository) UserExists(ctx context.Context, userID int64) (bool, error) {
	return m.users[userID], nil
}

func (m *mockRepository) MenuExists(ctx context.Context, menuID int64) (bool, error) {
	_, ok := m.menus[menuID]
	return ok, nil
}

func (m *mockRepository) History(ctx context.Context, filters HistoryFilters) ([]HistoryEntry, int, error) {
	if m.historyErr != nil {
		return nil, 0, m.historyErr
	}
	var matched []HistoryEntry
	for _, h := range m.history {
		if filters.UserID != 0 && h.UserID != filters.UserID {
			continue
		}
		if filters.MenuID != nil && h.MenuID != *filters.MenuID {
			continue
		}
		matched = append(matched, h)
	}
	total := len(matched)
	offset := (filters.Page - 1) * filters.PageSize
	if offset >= total {
		return nil, total, nil
	}
	end := offset + filters.PageSize
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (m *mockRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	for _, o := range m.overrides {
		if o.Active && o.ExpiresAt != nil && !o.ExpiresAt.After(now) {
			o.Active = false
			o.UpdatedAt = now
			count++
		}
	}
	return count, nil
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if m.txErr != nil {
		return m.txErr
	}
	return fn(ctx, &mockTxRepo{mock: m})
}

type mockTxRepo struct {
	mock *mockRepository
}

func (t *mockTxRepo) InsertOverride(ctx context.Context, o Override) (int64, error) {
	if t.mock.insertOverrideErr != nil {
		return 0, t.mock.insertOverrideErr
	}
	id := t.mock.nextID
	t.mock.nextID++
	o.ID = id
	if code, ok := t.mock.menus[o.MenuID]; ok {
		o.MenuCode = code
	}
	t.mock.overrides[id] = &o
	return id, nil
}

func (t *mockTxRepo) DeactivateOverride(ctx context.Context, id int64) error {
	o, ok := t.mock.overrides[id]
	if !ok || !o.Active {
		return shared.ErrNotFound
	}
	o.Active = false
	return nil
}

func (t *mockTxRepo) InsertHistory(ctx context.Context, h HistoryEntry) (int64, error) {
	if t.mock.insertHistoryErr != nil {
		return 0, t.mock.insertHistoryErr
	}
	h.ID = int64(len(t.mock.history) + 1)
	t.mock.history = append(t.mock.history, h)
	return h.ID, nil
}

func newTestService(mock *mockRepository) *Service {
	return NewService(mock, nil, nil, nil)
}

const operatorID = int64(99)

func seedUserAndMenu(mock *mockRepository) {
	mock.users[1] = true
	mock.menus[10] = "reports"
}

func TestGrantCreatesOverrideAndHistory(t *testing.T) {
	mock := newMockRepository()
	seedUserAndMenu(mock)
	svc := newTestService(mock)

	created, err := svc.Grant(context.Background(), GrantSpec{UserID: 1, MenuID: 10}, operatorID)
	require.NoError(t, err)
	require.NotNil(t, created)

	assert.Equal(t, TypeGrant, created.Type)
	assert.Equal(t, LevelMenu, created.Level)
	assert.Nil(t, created.ActionCode)
	assert.True(t, created.Active)
	assert.Equal(t, operatorID, created.GrantedBy)

	require.Len(t, mock.history, 1)
	entry := mock.history[0]
	assert.Equal(t, ActionCreate, entry.Action)
	assert.Nil(t, entry.OldValue)
	require.NotNil(t, entry.NewValue)
	assert.Contains(t, *entry.NewValue, `"active":true`)
	assert.Equal(t, operatorID, entry.OperatorID)
}

func TestGrantMenuLevelDropsActionCode(t *testing.T) {
	mock := newMockRepository()
	seedUserAndMenu(mock)
	svc := newTestService(mock)

	created, err := svc.Grant(context.Background(), GrantSpec{
		UserID:     1,
		MenuID:     10,
		Level:      LevelMenu,
		ActionCode: strptr("export"),
	}, operatorID)
	require.NoError(t, err)
	assert.Nil(t, created.ActionCode)
}

func TestGrantActionLevelRequiresCode(t *testing.T) {
	mock := newMockRepository()
	seedUserAndMenu(mock)
	svc := newTestService(mock)

	_, err := svc.Grant(context.Background(), GrantSpec{UserID: 1, MenuID: 10, Level: LevelAction}, operatorID)
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Grant(context.Background(), GrantSpec{
		UserID: 1, MenuID: 10, Level: LevelAction, ActionCode: strptr("  "),
	}, operatorID)
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestGrantRejectsPastExpiry(t *testing.T) {
	mock := newMockRepository()
	seedUserAndMenu(mock)
	svc := newTestService(mock)

	past := time.Now().Add(-time.Minute)
	_, err := svc.Grant(context.Background(), GrantSpec{UserID: 1, MenuID: 10, ExpiresAt: &past}, operatorID)
	assert.ErrorIs(t, err, shared.ErrValidation)
	assert.Empty(t, mock.history)
}

func TestGrantRejectsUnknownReferences(t *testing.T) {
	mock := newMockRepository()
	mock.menus[10] = "reports"
	svc := newTestService(mock)

	_, err := svc.Grant(context.Background(), GrantSpec{UserID: 42, MenuID: 10}, operatorID)
	assert.ErrorIs(t, err, shared.ErrValidation)

	mock.users[1] = true
	_, err = svc.Grant(context.Background(), GrantSpec{UserID: 1, MenuID: 77}, operatorID)
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestGrantConflictOnEquivalentActive(t *testing.T) {
	mock := newMockRepository()
	seedUserAndMenu(mock)
	svc := newTestService(mock)

	_, err := svc.Grant(context.Background(), GrantSpec{UserID: 1, MenuID: 10}, operatorID)
	require.NoError(t, err)

	_, err = svc.Grant(context.Background(), GrantSpec{UserID: 1, MenuID: 10, Type: TypeDeny}, operatorID)
	assert.ErrorIs(t, err, shared.ErrConflict)
	assert.Len(t, mock.history, 1)
}

func TestGrantAfterRevokeSucceeds(t *testing.T) {
	mock := newMockRepository()
	seedUserAndMenu(mock)
	svc := newTestService(mock)

	created, err := svc.Grant(context.Background(), GrantSpec{UserID: 1, MenuID: 10}, operatorID)
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(context.Background(), created.ID, nil, operatorID))

	_, err = svc.Grant(context.Background(), GrantSpec{UserID: 1, MenuID: 10}, operatorID)
	require.NoError(t, err)
	assert.Len(t, mock.history, 3)
}

func TestGrantRollsBackOnHistoryError(t *testing.T) {
	mock := newMockRepository()
	seedUserAndMenu(mock)
	mock.insertHistoryErr = errors.New("history write failed")
	svc := newTestService(mock)

	_, err := svc.Grant(context.Background(), GrantSpec{UserID: 1, MenuID: 10}, operatorID)
	require.Error(t, err)
	assert.Empty(t, mock.history)
}

func TestBatchGrantPartialConflict(t *testing.T) {
	mock := newMockRepository()
	mock.users[1] = true
	mock.menus[10] = "reports"
	mock.menus[11] = "admin"
	mock.menus[12] = "audit"
	svc := newTestService(mock)

	_, err := svc.Grant(context.Background(), GrantSpec{UserID: 1, MenuID: 11}, operatorID)
	require.NoError(t, err)

	result, err := svc.BatchGrant(context.Background(), []GrantSpec{
		{UserID: 1, MenuID: 10},
		{UserID: 1, MenuID: 11},
		{UserID: 1, MenuID: 12},
	}, operatorID)
	require.NoError(t, err)
	require.Len(t, result.Results, 3)
	assert.NotEmpty(t, result.BatchID)

	assert.Equal(t, BatchStatusCreated, result.Results[0].Status)
	assert.NotZero(t, result.Results[0].OverrideID)
	assert.Equal(t, BatchStatusExists, result.Results[1].Status)
	assert.Equal(t, BatchStatusCreated, result.Results[2].Status)

	// Seeded grant plus the two batch creations; the conflict wrote nothing.
	assert.Len(t, mock.history, 3)
}

func TestBatchGrantReportsFailures(t *testing.T) {
	mock := newMockRepository()
	seedUserAndMenu(mock)
	svc := newTestService(mock)

	result, err := svc.BatchGrant(context.Background(), []GrantSpec{
		{UserID: 1, MenuID: 10},
		{UserID: 1, MenuID: 404},
	}, operatorID)
	require.NoError(t, err)
	require.Len(t, result.Results, 2)
	assert.Equal(t, BatchStatusCreated, result.Results[0].Status)
	assert.Equal(t, BatchStatusFailed, result.Results[1].Status)
	assert.NotEmpty(t, result.Results[1].Error)
}

func TestRevokeWritesHistoryWithSnapshots(t *testing.T) {
	mock := newMockRepository()
	seedUserAndMenu(mock)
	svc := newTestService(mock)

	created, err := svc.Grant(context.Background(), GrantSpec{UserID: 1, MenuID: 10}, operatorID)
	require.NoError(t, err)

	reason := "no longer needed"
	require.NoError(t, svc.Revoke(context.Background(), created.ID, &reason, operatorID))

	assert.False(t, mock.overrides[created.ID].Active)
	require.Len(t, mock.history, 2)

	entry := mock.history[1]
	assert.Equal(t, ActionDelete, entry.Action)
	require.NotNil(t, entry.OldValue)
	require.NotNil(t, entry.NewValue)
	assert.Contains(t, *entry.OldValue, `"active":true`)
	assert.Contains(t, *entry.NewValue, `"active":false`)
	assert.Equal(t, &reason, entry.Reason)
}

func TestRevokeMissingOrInactive(t *testing.T) {
	mock := newMockRepository()
	seedUserAndMenu(mock)
	svc := newTestService(mock)

	err := svc.Revoke(context.Background(), 404, nil, operatorID)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	created, err := svc.Grant(context.Background(), GrantSpec{UserID: 1, MenuID: 10}, operatorID)
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(context.Background(), created.ID, nil, operatorID))

	err = svc.Revoke(context.Background(), created.ID, nil, operatorID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.Len(t, mock.history, 2)
}

func TestCleanupExpiredIsIdempotentAndSilent(t *testing.T) {
	mock := newMockRepository()
	seedUserAndMenu(mock)
	svc := newTestService(mock)

	expiry := time.Now().Add(time.Minute)
	created, err := svc.Grant(context.Background(), GrantSpec{UserID: 1, MenuID: 10, ExpiresAt: &expiry}, operatorID)
	require.NoError(t, err)

	svc.SetClock(func() time.Time { return expiry.Add(time.Second) })

	count, err := svc.CleanupExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.False(t, mock.overrides[created.ID].Active)

	count, err = svc.CleanupExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)

	// Only the original grant is in history; the sweep writes none.
	assert.Len(t, mock.history, 1)
}

func TestResolveMergesGrantsAndOverrides(t *testing.T) {
	mock := newMockRepository()
	seedUserAndMenu(mock)
	mock.grants[1] = []RoleGrant{
		{MenuID: 10, MenuCode: "reports"},
		{MenuID: 11, MenuCode: "admin"},
	}
	svc := newTestService(mock)

	created, err := svc.Grant(context.Background(), GrantSpec{UserID: 1, MenuID: 10, Type: TypeDeny}, operatorID)
	require.NoError(t, err)
	require.NotNil(t, created)

	perms, err := svc.Resolve(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, perms, 2)

	set := GrantedSet(perms)
	assert.NotContains(t, set, "reports")
	assert.Contains(t, set, "admin")
}

func TestResolveRetriesTransientReadError(t *testing.T) {
	mock := newMockRepository()
	mock.grants[1] = []RoleGrant{{MenuID: 10, MenuCode: "reports"}}
	mock.roleGrantsFails = 1
	svc := newTestService(mock)

	perms, err := svc.Resolve(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, perms, 1)
}

func TestResolvePropagatesPersistentError(t *testing.T) {
	mock := newMockRepository()
	mock.roleGrantsErr = errors.New("connection refused")
	svc := newTestService(mock)

	_, err := svc.Resolve(context.Background(), 1)
	require.Error(t, err)
}

func TestCheckUsesCompoundCodes(t *testing.T) {
	mock := newMockRepository()
	mock.grants[1] = []RoleGrant{
		{MenuID: 10, MenuCode: "reports", ActionCode: strptr("export")},
	}
	svc := newTestService(mock)

	ok, err := svc.Check(context.Background(), 1, "reports:export")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Check(context.Background(), 1, "reports")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHistoryPagination(t *testing.T) {
	mock := newMockRepository()
	seedUserAndMenu(mock)
	mock.menus[11] = "admin"
	mock.menus[12] = "audit"
	svc := newTestService(mock)

	for _, menuID := range []int64{10, 11, 12} {
		_, err := svc.Grant(context.Background(), GrantSpec{UserID: 1, MenuID: menuID}, operatorID)
		require.NoError(t, err)
	}

	entries, pagination, err := svc.History(context.Background(), HistoryFilters{UserID: 1, Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, 3, pagination.Total)
	assert.Equal(t, 2, pagination.TotalPages)

	entries, _, err = svc.History(context.Background(), HistoryFilters{UserID: 1, Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestHistoryClampsPageSize(t *testing.T) {
	mock := newMockRepository()
	svc := newTestService(mock)

	_, pagination, err := svc.History(context.Background(), HistoryFilters{UserID: 1, PageSize: 5000})
	require.NoError(t, err)
	assert.Equal(t, 100, pagination.PerPage)
}
