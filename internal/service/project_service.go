package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"workbridge/internal/apperr"
	"workbridge/internal/model"
	"workbridge/pkg/rbac"
)

type ProjectService struct {
	projects ProjectStore
	logger   *zap.Logger
}

func NewProjectService(projects ProjectStore, logger *zap.Logger) *ProjectService {
	return &ProjectService{projects: projects, logger: logger}
}

type CreateProjectInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Budget      float64  `json:"budget"`
	Skills      []string `json:"skills,omitempty"`
	Category    string   `json:"category,omitempty"`
}

func (s *ProjectService) Create(ctx context.Context, p model.Principal, in CreateProjectInput) (*model.Project, error) {
	if p.Role != rbac.RoleClient && !p.IsAdmin() {
		return nil, apperr.Forbidden(apperr.ReasonRoleNotAllowed, "only clients can post projects")
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, apperr.Validation("project title is required")
	}
	if in.Budget <= 0 {
		return nil, apperr.Validation("project budget must be positive")
	}
	project := &model.Project{
		OwnerID:     p.UserID,
		Title:       in.Title,
		Description: in.Description,
		Budget:      in.Budget,
		Skills:      in.Skills,
		Category:    in.Category,
		Status:      model.ProjectStatusOpen,
	}
	if err := s.projects.Insert(ctx, project); err != nil {
		return nil, err
	}
	s.logger.Info("Project posted", zap.Int("project_id", project.ID), zap.Int("owner_id", p.UserID))
	return project, nil
}

func (s *ProjectService) Get(ctx context.Context, id int) (*model.Project, error) {
	return s.projects.FindByID(ctx, id)
}

func (s *ProjectService) ListOpen(ctx context.Context, limit int) ([]model.Project, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.projects.ListOpen(ctx, limit)
}

func (s *ProjectService) ListMine(ctx context.Context, p model.Principal) ([]model.Project, error) {
	return s.projects.ListByOwner(ctx, p.UserID)
}
