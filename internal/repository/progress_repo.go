package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"workbridge/internal/model"
)

// ProgressRepository reads the append-only milestone audit trail. Writes go
// through MilestoneRepository.ApplyProgress so they share the transaction
// with the status change that caused them.
type ProgressRepository struct {
	db *pgxpool.Pool
}

func NewProgressRepository(db *pgxpool.Pool) *ProgressRepository {
	return &ProgressRepository{db: db}
}

func (r *ProgressRepository) ListByMilestone(ctx context.Context, milestoneID int) ([]model.ProgressUpdate, error) {
	query := `
        SELECT id, milestone_id, author_id, description, status, created_at
        FROM progress_updates
        WHERE milestone_id = $1
        ORDER BY id ASC
    `
	rows, err := r.db.Query(ctx, query, milestoneID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var updates []model.ProgressUpdate
	for rows.Next() {
		var u model.ProgressUpdate
		if err := rows.Scan(
			&u.ID,
			&u.MilestoneID,
			&u.AuthorID,
			&u.Description,
			&u.Status,
			&u.CreatedAt,
		); err != nil {
			return nil, err
		}
		updates = append(updates, u)
	}
	return updates, rows.Err()
}
