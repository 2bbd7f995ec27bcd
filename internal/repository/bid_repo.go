package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"workbridge/internal/apperr"
	"workbridge/internal/model"
	"workbridge/pkg/outbox"
)

type BidRepository struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
	logger *zap.Logger
}

func NewBidRepository(db *pgxpool.Pool, obx *outbox.Repository, logger *zap.Logger) *BidRepository {
	return &BidRepository{db: db, outbox: obx, logger: logger}
}

// Insert relies on the (project_id, freelancer_id) unique constraint to
// enforce one bid per freelancer per project.
func (r *BidRepository) Insert(ctx context.Context, b *model.Bid) error {
	query := `
        INSERT INTO bids (project_id, freelancer_id, amount, delivery_time_days, cover_letter, status)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id, created_at, updated_at
    `
	err := r.db.QueryRow(ctx, query,
		b.ProjectID,
		b.FreelancerID,
		b.Amount,
		b.DeliveryTimeDays,
		b.CoverLetter,
		b.Status,
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return apperr.FromStore(err, "bid")
	}
	return nil
}

func (r *BidRepository) FindByID(ctx context.Context, id int) (*model.Bid, error) {
	query := `
        SELECT id, project_id, freelancer_id, amount, delivery_time_days, cover_letter, status, created_at, updated_at
        FROM bids
        WHERE id = $1
    `
	var b model.Bid
	err := r.db.QueryRow(ctx, query, id).Scan(
		&b.ID,
		&b.ProjectID,
		&b.FreelancerID,
		&b.Amount,
		&b.DeliveryTimeDays,
		&b.CoverLetter,
		&b.Status,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, apperr.FromStore(err, "bid")
	}
	return &b, nil
}

func (r *BidRepository) ListByProject(ctx context.Context, projectID int) ([]model.Bid, error) {
	query := `
        SELECT id, project_id, freelancer_id, amount, delivery_time_days, cover_letter, status, created_at, updated_at
        FROM bids
        WHERE project_id = $1
        ORDER BY created_at ASC
    `
	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bids []model.Bid
	for rows.Next() {
		var b model.Bid
		if err := rows.Scan(
			&b.ID,
			&b.ProjectID,
			&b.FreelancerID,
			&b.Amount,
			&b.DeliveryTimeDays,
			&b.CoverLetter,
			&b.Status,
			&b.CreatedAt,
			&b.UpdatedAt,
		); err != nil {
			return nil, err
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

// UpdateStatus moves a bid between undecided states (shortlist / reject).
// The conditional WHERE guards against racing decisions.
func (r *BidRepository) UpdateStatus(ctx context.Context, bidID int, from []string, to string) error {
	query := `
        UPDATE bids
        SET status = $2, updated_at = NOW()
        WHERE id = $1 AND status = ANY($3)
    `
	tag, err := r.db.Exec(ctx, query, bidID, to, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict(apperr.ReasonStaleState, "bid already decided")
	}
	return nil
}

// Accept atomically accepts one bid, rejects its siblings and moves the
// project to in_progress.
func (r *BidRepository) Accept(ctx context.Context, b *model.Bid, events []OutboxEvent) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
        UPDATE bids
        SET status = 'accepted', updated_at = NOW()
        WHERE id = $1 AND status IN ('pending', 'shortlisted')
    `, b.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict(apperr.ReasonStaleState, "bid already decided")
	}

	if _, err := tx.Exec(ctx, `
        UPDATE bids
        SET status = 'rejected', updated_at = NOW()
        WHERE project_id = $1 AND id <> $2 AND status IN ('pending', 'shortlisted')
    `, b.ProjectID, b.ID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
        UPDATE projects
        SET status = 'in_progress', updated_at = NOW()
        WHERE id = $1 AND status = 'open'
    `, b.ProjectID); err != nil {
		return err
	}

	if err := insertOutboxEvents(ctx, tx, r.outbox, events); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	r.logger.Info("Bid accepted",
		zap.Int("bid_id", b.ID),
		zap.Int("project_id", b.ProjectID),
	)
	return nil
}
