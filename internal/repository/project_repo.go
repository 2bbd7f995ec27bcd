package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"workbridge/internal/model"
)

type ProjectRepository struct {
	db *pgxpool.Pool
}

func NewProjectRepository(db *pgxpool.Pool) *ProjectRepository {
	return &ProjectRepository{db: db}
}

func (r *ProjectRepository) Insert(ctx context.Context, p *model.Project) error {
	query := `
        INSERT INTO projects (owner_id, title, description, budget, deadline, skills, category, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id, created_at, updated_at
    `
	return r.db.QueryRow(ctx, query,
		p.OwnerID,
		p.Title,
		p.Description,
		p.Budget,
		p.Deadline,
		p.Skills,
		p.Category,
		p.Status,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (r *ProjectRepository) FindByID(ctx context.Context, id int) (*model.Project, error) {
	query := `
        SELECT id, owner_id, title, description, budget, deadline, skills, category, status, created_at, updated_at
        FROM projects
        WHERE id = $1
    `
	var p model.Project
	err := r.db.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.OwnerID,
		&p.Title,
		&p.Description,
		&p.Budget,
		&p.Deadline,
		&p.Skills,
		&p.Category,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProjectRepository) ListOpen(ctx context.Context, limit int) ([]model.Project, error) {
	query := `
        SELECT id, owner_id, title, description, budget, deadline, skills, category, status, created_at, updated_at
        FROM projects
        WHERE status = 'open'
        ORDER BY created_at DESC
        LIMIT $1
    `
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []model.Project
	for rows.Next() {
		var p model.Project
		if err := rows.Scan(
			&p.ID,
			&p.OwnerID,
			&p.Title,
			&p.Description,
			&p.Budget,
			&p.Deadline,
			&p.Skills,
			&p.Category,
			&p.Status,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (r *ProjectRepository) ListByOwner(ctx context.Context, ownerID int) ([]model.Project, error) {
	query := `
        SELECT id, owner_id, title, description, budget, deadline, skills, category, status, created_at, updated_at
        FROM projects
        WHERE owner_id = $1
        ORDER BY created_at DESC
    `
	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []model.Project
	for rows.Next() {
		var p model.Project
		if err := rows.Scan(
			&p.ID,
			&p.OwnerID,
			&p.Title,
			&p.Description,
			&p.Budget,
			&p.Deadline,
			&p.Skills,
			&p.Category,
			&p.Status,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}
