package menus

import (
	"context"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/dmsqa/permcore/internal/shared"
)

// Service wraps menu catalogue rules.
type Service struct {
	repo  Repository
	title cases.Caser
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, title: cases.Title(language.Und, cases.NoLower)}
}

// List returns the flat menu catalogue.
func (s *Service) List(ctx context.Context, includeInactive bool) ([]Menu, error) {
	return s.repo.List(ctx, includeInactive)
}

// Get fetches one menu.
func (s *Service) Get(ctx context.Context, id int64) (*Menu, error) {
	return s.repo.Get(ctx, id)
}

// Tree returns active page menus as a tree, with action menus attached to
// their parent pages.
func (s *Service) Tree(ctx context.Context) ([]*TreeNode, error) {
	menus, err := s.repo.List(ctx, false)
	if err != nil {
		return nil, err
	}
	return buildTree(menus), nil
}

// Create validates and inserts a menu.
func (s *Service) Create(ctx context.Context, req CreateMenuRequest) (*Menu, error) {
	code := strings.ToLower(strings.TrimSpace(req.Code))
	if code == "" {
		return nil, shared.ErrValidationf("menu code required")
	}
	if !req.Kind.IsValid() {
		return nil, shared.ErrValidationf("menu kind must be page or action")
	}
	if req.Kind == KindAction {
		if req.ActionCode == nil || strings.TrimSpace(*req.ActionCode) == "" {
			return nil, shared.ErrValidationf("action menu requires an action code")
		}
		if req.ParentID == nil {
			return nil, shared.ErrValidationf("action menu requires a parent page")
		}
		trimmed := strings.ToLower(strings.TrimSpace(*req.ActionCode))
		req.ActionCode = &trimmed
	} else {
		req.ActionCode = nil
	}
	if req.ParentID != nil {
		parent, err := s.repo.Get(ctx, *req.ParentID)
		if err != nil {
			return nil, shared.ErrValidationf("parent menu %d does not exist", *req.ParentID)
		}
		if parent.Kind != KindPage {
			return nil, shared.ErrValidationf("parent menu must be a page")
		}
	}

	menu := Menu{
		Code:       code,
		Name:       s.normalizeName(req.Name),
		Kind:       req.Kind,
		ActionCode: req.ActionCode,
		ParentID:   req.ParentID,
		Path:       req.Path,
		SortOrder:  req.SortOrder,
		Active:     true,
	}
	id, err := s.repo.Create(ctx, menu)
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Update rewrites the mutable fields of a menu.
func (s *Service) Update(ctx context.Context, id int64, req UpdateMenuRequest) (*Menu, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	existing.Name = s.normalizeName(req.Name)
	existing.Path = req.Path
	existing.SortOrder = req.SortOrder
	if err := s.repo.Update(ctx, *existing); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Disable deactivates a menu. Role grants and overrides referencing it stop
// contributing to resolution immediately.
func (s *Service) Disable(ctx context.Context, id int64) error {
	return s.repo.SetActive(ctx, id, false)
}

// Enable reactivates a menu.
func (s *Service) Enable(ctx context.Context, id int64) error {
	return s.repo.SetActive(ctx, id, true)
}

func (s *Service) normalizeName(name string) string {
	return s.title.String(strings.Join(strings.Fields(name), " "))
}

func buildTree(menus []Menu) []*TreeNode {
	nodes := make(map[int64]*TreeNode, len(menus))
	for i := range menus {
		nodes[menus[i].ID] = &TreeNode{Menu: menus[i]}
	}
	var roots []*TreeNode
	for _, m := range menus {
		node := nodes[m.ID]
		if m.ParentID != nil {
			if parent, ok := nodes[*m.ParentID]; ok {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}
	return roots
}
