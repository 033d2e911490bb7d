package menus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmsqa/permcore/internal/shared"
)

type mockRepository struct {
	menus  map[int64]*Menu
	byCode map[string]int64
	nextID int64
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		menus:  make(map[int64]*Menu),
		byCode: make(map[string]int64),
		nextID: 1,
	}
}

func (m *mockRepository) List(ctx context.Context, includeInactive bool) ([]Menu, error) {
	var out []Menu
	for id := int64(1); id < m.nextID; id++ {
		menu, ok := m.menus[id]
		if !ok {
			continue
		}
		if !includeInactive && !menu.Active {
			continue
		}
		out = append(out, *menu)
	}
	return out, nil
}

func (m *mockRepository) Get(ctx context.Context, id int64) (*Menu, error) {
	menu, ok := m.menus[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *menu
	return &cp, nil
}

func (m *mockRepository) Create(ctx context.Context, menu Menu) (int64, error) {
	if _, exists := m.byCode[menu.Code]; exists {
		return 0, shared.ErrConflict
	}
	id := m.nextID
	m.nextID++
	menu.ID = id
	m.menus[id] = &menu
	m.byCode[menu.Code] = id
	return id, nil
}

func (m *mockRepository) Update(ctx context.Context, menu Menu) error {
	existing, ok := m.menus[menu.ID]
	if !ok {
		return shared.ErrNotFound
	}
	existing.Name = menu.Name
	existing.Path = menu.Path
	existing.SortOrder = menu.SortOrder
	return nil
}

func (m *mockRepository) SetActive(ctx context.Context, id int64, active bool) error {
	menu, ok := m.menus[id]
	if !ok {
		return shared.ErrNotFound
	}
	menu.Active = active
	return nil
}

func TestCreateNormalizesCodeAndName(t *testing.T) {
	svc := NewService(newMockRepository())

	menu, err := svc.Create(context.Background(), CreateMenuRequest{
		Code: "  Reports  ",
		Name: "  quality   reports ",
		Kind: KindPage,
	})
	require.NoError(t, err)
	assert.Equal(t, "reports", menu.Code)
	assert.Equal(t, "Quality Reports", menu.Name)
	assert.True(t, menu.Active)
}

func TestCreateDuplicateCode(t *testing.T) {
	svc := NewService(newMockRepository())

	_, err := svc.Create(context.Background(), CreateMenuRequest{Code: "reports", Name: "Reports", Kind: KindPage})
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), CreateMenuRequest{Code: "REPORTS", Name: "Other", Kind: KindPage})
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestCreateActionRequiresCodeAndParent(t *testing.T) {
	svc := NewService(newMockRepository())

	_, err := svc.Create(context.Background(), CreateMenuRequest{Code: "reports-export", Name: "Export", Kind: KindAction})
	assert.ErrorIs(t, err, shared.ErrValidation)

	page, err := svc.Create(context.Background(), CreateMenuRequest{Code: "reports", Name: "Reports", Kind: KindPage})
	require.NoError(t, err)

	code := "export"
	_, err = svc.Create(context.Background(), CreateMenuRequest{
		Code: "reports-export", Name: "Export", Kind: KindAction, ActionCode: &code,
	})
	assert.ErrorIs(t, err, shared.ErrValidation)

	action, err := svc.Create(context.Background(), CreateMenuRequest{
		Code: "reports-export", Name: "Export", Kind: KindAction, ActionCode: &code, ParentID: &page.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, action.ActionCode)
	assert.Equal(t, "export", *action.ActionCode)
}

func TestCreateActionUnderActionRejected(t *testing.T) {
	svc := NewService(newMockRepository())

	page, err := svc.Create(context.Background(), CreateMenuRequest{Code: "reports", Name: "Reports", Kind: KindPage})
	require.NoError(t, err)

	code := "export"
	action, err := svc.Create(context.Background(), CreateMenuRequest{
		Code: "reports-export", Name: "Export", Kind: KindAction, ActionCode: &code, ParentID: &page.ID,
	})
	require.NoError(t, err)

	code2 := "nested"
	_, err = svc.Create(context.Background(), CreateMenuRequest{
		Code: "reports-nested", Name: "Nested", Kind: KindAction, ActionCode: &code2, ParentID: &action.ID,
	})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestTreeAttachesChildrenAndSkipsInactive(t *testing.T) {
	svc := NewService(newMockRepository())

	page, err := svc.Create(context.Background(), CreateMenuRequest{Code: "reports", Name: "Reports", Kind: KindPage})
	require.NoError(t, err)

	code := "export"
	_, err = svc.Create(context.Background(), CreateMenuRequest{
		Code: "reports-export", Name: "Export", Kind: KindAction, ActionCode: &code, ParentID: &page.ID,
	})
	require.NoError(t, err)

	other, err := svc.Create(context.Background(), CreateMenuRequest{Code: "admin", Name: "Admin", Kind: KindPage})
	require.NoError(t, err)
	require.NoError(t, svc.Disable(context.Background(), other.ID))

	tree, err := svc.Tree(context.Background())
	require.NoError(t, err)
	require.Len(t, tree, 1)
	assert.Equal(t, "reports", tree[0].Code)
	require.Len(t, tree[0].Children, 1)
	assert.Equal(t, "reports-export", tree[0].Children[0].Code)
}

func TestUpdateAndDisable(t *testing.T) {
	svc := NewService(newMockRepository())

	menu, err := svc.Create(context.Background(), CreateMenuRequest{Code: "reports", Name: "Reports", Kind: KindPage})
	require.NoError(t, err)

	updated, err := svc.Update(context.Background(), menu.ID, UpdateMenuRequest{Name: "all reports", SortOrder: 5})
	require.NoError(t, err)
	assert.Equal(t, "All Reports", updated.Name)
	assert.Equal(t, 5, updated.SortOrder)

	require.NoError(t, svc.Disable(context.Background(), menu.ID))
	listed, err := svc.List(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, listed)

	err = svc.Disable(context.Background(), 404)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
